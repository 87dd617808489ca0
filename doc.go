// Package continuum implements a multi-tier associative memory.
//
// A System owns a set of named levels and one shared similarity index.
// Each level remembers at its own cadence: writes made through UpdateLevel
// are kept only when the level's step counter lines up with its update
// frequency and the caller-supplied surprise score clears the level
// threshold. Store bypasses that gate for known-good inserts.
//
// # Levels
//
// Levels are configured with level.Config and built by name convention:
// short-lived tiers ("session", "daily", ...) write through to a TTL
// key-value store, long-lived tiers ("historical", "domain", ...) write
// through to a vector store, and everything else stays in process. A
// persistence backend that cannot be reached is logged and skipped; the
// level keeps serving from memory until the backend answers again.
//
// # Getting Started
//
//	enc := encoder.NewHash[string](384, "cms")
//
//	sys, err := continuum.New[string](ctx, 384, continuum.DefaultLevels(), enc,
//		continuum.WithKVStore(redisStore),
//		continuum.WithVectorStore(chromemStore),
//	)
//	if err != nil {
//		return err
//	}
//	defer sys.Close()
//
//	_ = sys.Store(ctx, "domain", "cve-2024-1234", "heap overflow in parser", nil)
//
//	hits, err := sys.Retrieve(ctx, "parser overflow", "domain", 5)
//	for _, h := range hits {
//		fmt.Println(h.Key, h.Similarity, h.Entry.Payload)
//	}
//
// # Cadence
//
// Call Step once per logical tick. It advances the global counter and every
// level's counter together; a level with UpdateFreq 10 only considers
// updates on every tenth step.
//
// # Fusion
//
// EncodeMultiLevel blends one embedding per level into a single vector.
// Weights default to the configured WeightPolicy (equal weights unless
// WithWeightPolicy says otherwise).
//
// # Observability
//
// Every public operation opens an OpenTelemetry span and feeds a small set
// of counters. Tracer and meter default to no-ops.
package continuum
