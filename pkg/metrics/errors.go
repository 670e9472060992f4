package metrics

import "errors"

var ErrRegisterCollector = errors.New("metrics: failed to register collector")
