// Package logging provides structured logging for geosegment.
//
// Logger wraps zap with context-aware methods that attach correlation
// fields (trace_id, span_id, job.id, session.id, request.id) taken from the
// context, a Trace level below Debug, optional OpenTelemetry log export and
// level-aware sampling where errors are never dropped.
//
// Console output is written to stderr:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithJob(ctx, &logging.Job{ID: id, File: "scene.tif"})
//	logger.Info(ctx, "segmentation completed", zap.Int("classes", 8))
//
// Credentials are redacted by field name (x-api-key, authorization, ...)
// and by value pattern. Use Secret and Headers for explicit redaction.
//
// TestLogger records entries for assertions in tests.
package logging
