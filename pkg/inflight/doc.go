// Package inflight coordinates concurrent cache misses for the same prompt.
//
// When several callers miss the cache for the same (firm, prompt hash) at
// the same time, only the first should invoke the model. The first caller
// takes a lease; the others wait for it to be released and then probe the
// cache again. A lease that is never released expires after its TTL, so a
// crashed caller cannot block others indefinitely.
//
// # Backends
//
//   - MemoryTracker: process-local leases with a done channel per key.
//   - RedisTracker: leases shared between replicas via SET NX PX, released
//     with a compare-and-delete script so a caller can only release its
//     own lease.
//
// # Usage
//
//	lease, ok, err := tracker.Acquire(ctx, inflight.Key(firmID, hash))
//	if ok {
//	    defer tracker.Release(ctx, lease)
//	    // invoke the model and populate the cache
//	} else {
//	    released, _ := tracker.Wait(ctx, inflight.Key(firmID, hash), timeout)
//	    // re-probe the cache
//	}
package inflight
