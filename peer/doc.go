// Package peer propagates registry changes between regd nodes over Redis
// pub/sub.
//
// Every node publishes its locally originated changes on a shared channel
// and applies the changes it receives from other nodes with
// Registry.ApplyRemoteUpdate. There is no ordering or delivery guarantee
// between nodes: a node that misses a message converges when the owner
// next changes or re-registers the record. Each node also keeps a short
// lived presence record so operators can see which peers are connected.
package peer
