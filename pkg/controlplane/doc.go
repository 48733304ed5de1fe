// Package controlplane is the entry point callers use around every AI
// model invocation.
//
// # Flow
//
// Before invoking a model the caller asks Resolve what to do:
//
//  1. The budget governor evaluates the firm (month rollover, threshold
//     alerts, auto-pause).
//  2. The cache is probed by exact prompt hash, then by embedding
//     similarity within the same firm and operation type.
//  3. A hit is served even when the firm is paused: it costs nothing.
//  4. A miss for a paused firm is Blocked.
//  5. Otherwise the caller must invoke the model. Concurrent misses for the
//     same prompt are coalesced: the first caller gets a lease, the others
//     wait for it and probe the cache again.
//
// After a MustInvoke the caller reports the result with Record, which
// stores the response in the cache (best effort), appends the usage record
// (fatal on failure) and re-evaluates the budget. A caller that gives up
// calls Abandon so waiters stop waiting.
//
// # Errors
//
// All errors returned by the facade are *Error values wrapping one of the
// sentinel errors below or a context error; use errors.Is to test them.
package controlplane
