// Package logging provides structured logging with content redaction.
//
// # Overview
//
// The logging package builds a log/slog logger whose handler:
//   - Emits JSON, text, or console output
//   - Adds request attribution (request, firm, user, case, operation type)
//     stored in the context
//   - Replaces prompt and response text with a digest and masks credentials,
//     emails and similar PII in other attributes
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//
//	ctx = logging.WithAttribution(ctx, "firm-123", "user-9", "case-42", "summarization")
//	logger.InfoContext(ctx, "cache miss",
//	    "prompt", prompt, // logged as "len=812 sha256=3fa2..."
//	)
//
// Components receive a *slog.Logger and tag their records with a
// component attribute:
//
//	logger = logger.With("component", "budget.governor")
package logging
