// Package server exposes the control plane over HTTP/JSON.
//
// # Endpoints
//
//	POST /v1/resolve                     decide cached / must_invoke / blocked
//	POST /v1/record                      store a model result and its usage
//	POST /v1/abandon                     release a lease after a failed model call
//	GET  /v1/firms/{firm}/budget         budget status
//	PUT  /v1/firms/{firm}/budget         replace the firm's budget policy
//	POST /v1/firms/{firm}/budget/resume  lift an auto-pause for the month
//	GET  /v1/firms/{firm}/usage          usage summary (?from=&to= RFC 3339)
//	GET  /health, /ready, /version, /metrics
//
// # Resolve
//
// A typical caller resolves before every model call:
//
//	POST /v1/resolve
//	{"firm_id": "firm-acme", "operation_type": "summarization",
//	 "prompt": "...", "embedding": [0.12, ...]}
//
// and acts on "outcome". For "must_invoke" the response may carry a
// "lease"; it must be passed back in /v1/record, or to /v1/abandon when
// the model call fails, so that callers waiting on the same prompt are
// released.
//
// # Errors
//
// Errors use a JSON envelope:
//
//	{"error": {"message": "...", "type": "invalid_request_error", "code": "invalid_context"}}
//
// Missing firm or operation type maps to 400, a failed ledger append to
// 503.
package server
