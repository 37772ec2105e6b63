// Package registry is the in-memory service registry: instance records
// with leases, a periodic eviction sweep guarded by self-preservation, and
// a versioned read path serving snapshots and deltas to discovery clients.
//
// Construction is explicit and dependency-ordered:
//
//	reg, err := registry.New(cfg, log, registry.WithClock(clock.Real{}))
//	evictor := registry.NewEvictor(reg, log)
//	app.RegisterComponent(evictor)
//
// Writers lock only the shard their key hashes to. A snapshot briefly
// takes the store-wide view gate exclusively so it never observes a
// half-applied mutation.
package registry
