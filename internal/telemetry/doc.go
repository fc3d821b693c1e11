// Package telemetry sets up OpenTelemetry tracing and metrics export for
// the geoseg CLI and the segment-relay server.
//
// Exporters speak OTLP over gRPC (default) or HTTP/protobuf. Connections to
// non-loopback collectors use TLS. Telemetry is best effort: exporter setup
// failures are reported through Degraded and never stop the process.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
//	defer tel.Shutdown(context.Background())
//	tracer := tel.Tracer("github.com/fyrsmithlabs/geosegment/internal/segment")
package telemetry
