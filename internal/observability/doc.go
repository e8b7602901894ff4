// Package observability provides structured logging, Prometheus metrics,
// and an in-memory event timeline shared by the browser control layer,
// perception-action loop, ghost-context pool, and parallel task scheduler.
//
// # Logging
//
// Logger wraps slog with automatic task_id/context_id/lease_id/step
// correlation and redaction of secrets that might appear in extracted
// page text or navigation URLs:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddTaskID(ctx, taskID)
//	logger.Info(ctx, "navigated", "url", targetURL)
//
// # Metrics
//
// Metrics registers a fixed set of Prometheus collectors for pool
// occupancy, tier resolution, step latency, crash/retry counts, and
// resource budget enforcement:
//
//	metrics := observability.NewMetrics()
//	metrics.SetPoolSlots("available", 4)
//	metrics.RecordTierResolution("tier_1_ax")
//
// # Event timeline
//
// EventRecorder writes a replayable timeline of a task's steps, useful
// for debugging a failed run after the fact.
package observability
