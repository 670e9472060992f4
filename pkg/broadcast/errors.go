package broadcast

import "errors"

// ErrTopicClosed is returned when publishing to a closed topic.
var ErrTopicClosed = errors.New("broadcast: topic is closed")
