// Package telemetry provides OpenTelemetry tracing and metrics for the IOSM binaries.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(doc.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	engine, err := orchestrator.NewEngine(cfg, backlog, executors, collector,
//	    orchestrator.WithTracer(tel.Tracer("iosm")),
//	    orchestrator.WithMeter(tel.Meter("iosm")),
//	)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc # or http/protobuf
//	  service_name: "iosm"
//	  sample_rate: 1.0
//
// # Error Handling
//
// If a provider cannot be created the instance degrades to the global no-op
// providers; Health lists the reasons.
//
// # Testing
//
// NewTestTelemetry records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
