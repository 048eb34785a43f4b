// Package logging provides structured logging for the IOSM engine and its binaries.
//
// # Overview
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Output to stdout or stderr and, optionally, OpenTelemetry logs
//   - Automatic correlation fields taken from the context: trace_id, span_id,
//     run_id, system_id, cycle, phase and request_id
//   - Key and pattern based redaction of command environments and credentials
//   - Sampling below Error
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRun(ctx, runID, "billing-api")
//	ctx = logging.WithCycle(ctx, 2)
//	logger.Info(ctx, "cycle scored", zap.Float64("index", 0.91))
//
// produces
//
//	{"ts":"2026-03-02T10:15:30Z","level":"info","msg":"cycle scored",
//	 "run_id":"6f1c...","system_id":"billing-api","cycle":2,"index":0.91}
//
// CLI commands write logs to stderr so command output on stdout stays parseable.
package logging
