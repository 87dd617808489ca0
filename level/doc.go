// Package level implements a single tier of the continuum memory.
//
// A Level owns a bounded key→embedding map and a parallel key→Entry map.
// Writes are gated: an Update is only kept when the level is not frozen,
// its step counter is a multiple of UpdateFreq, and the caller-supplied
// surprise exceeds SurpriseThreshold. When a write pushes the level past
// its Capacity, the entry with the oldest timestamp is evicted.
//
// Three variants share that contract:
//
//   - memory: purely in-process
//   - kv: write-through to a kvstore.Store with a per-level TTL
//   - vector: write-through to a vectorstore.Collection
//
// Build picks the variant from the level name (see KindFor). Persistence
// failures never surface from Level methods: the backend is marked
// disconnected, the call degrades to "write skipped" or "not found", and
// the next call probes the backend again.
//
// Example:
//
//	cfg := level.NewConfig("working", 1, 0.1)
//	cfg.Capacity = 128
//
//	lvl, err := level.NewMemory[string](cfg, 384, encoder.NewHash[string](384, "working"))
//	if err != nil {
//	    return err
//	}
//
//	res, err := lvl.Update(ctx, "obs-1", "port 443 open", 0.8)
//	if res.Accepted {
//	    // res.Embedding was written; res.Evicted lists displaced keys
//	}
package level
