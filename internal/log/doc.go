// Package log provides the logging setup of reductree, built on top of the
// standard slog package.
//
// This package extends slog to provide:
//   - Text or JSON output selected by configuration
//   - Configurable log levels with verbose mode support
//   - Run context attributes taken from the context.Context
//
// # Run Context
//
// The ContextHandler adds the attributes run_id, scan_point and node_id to
// every record logged through a *Context method (InfoContext, WarnContext,
// ...), when the context carries them:
//
//	ctx = log.WithRunID(ctx, runID)
//	ctx = log.WithScanPoint(ctx, 17)
//	logger.WarnContext(ctx, "Scan point failed.", "error", err)
//	// level=WARN msg="Scan point failed." error=... run_id=... scan_point=17
//
// # Usage
//
//	logger, err := log.NewLogger(os.Stderr, verbose, log.FormatText)
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
package log
