// Package observability provides logging and metrics support for the
// research integrator.
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Metrics are registered against a caller-supplied registry and passed to
// components as their recorder:
//
//	metrics := observability.NewMetrics("resint", prometheus.DefaultRegisterer)
//	executor := resilience.NewExecutor(limiter, policy, resilience.WithRecorder(metrics))
//
// Request-scoped fields travel on the context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	log := observability.LoggerFromContext(ctx, logger)
package observability
