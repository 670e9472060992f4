// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// New creates a *slog.Logger configured by Option functions:
//
//   - WithEnvironment picks text/debug for development and json/info for
//     staging and production.
//   - WithFormat / WithTextFormatter / WithJSONFormatter override output format.
//   - WithLevel sets a custom slog.Level.
//   - WithAttr attaches static attributes.
//   - WithContextExtractors / WithContextValue inject attributes from context.
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment("production", "billingsync"),
//		logger.WithContextExtractors(gateway.IdempotencyKeyExtractor),
//	)
//
//	log.InfoContext(ctx, "subscription committed",
//		logger.SubscriptionID(rec.ID),
//		logger.Version(rec.Version),
//		logger.Status(rec.Status.String()),
//	)
//
// # Secrets
//
// Secret wraps opaque credentials such as checkout client secrets. It
// implements slog.LogValuer, fmt.Stringer and json.Marshaler so the raw value
// never reaches a log sink or a rendered payload by accident:
//
//	log.Info("checkout ready", slog.Any("client_secret", rec.ClientSecret)) // client_secret=[REDACTED]
//
// # Error Handling
//
// Error and Errors produce attributes only for non-nil errors, so calls like
//
//	log.Info("sync finished", logger.Error(err))
//
// need no additional nil check.
package logger
