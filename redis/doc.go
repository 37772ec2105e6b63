// Package redis wraps go-redis with regd logging and configuration
// conventions. It carries the pub/sub channel used for peer replication and
// a small JSON key/value store for peer presence records.
//
//	client, err := redis.New(cfg, log)
//	defer client.Close()
//
//	sub, err := client.Subscribe(ctx, "regd.replication")
//	for msg := range sub.Channel() { ... }
//
// Records keeps expiring JSON values under a namespace:
//
//	peers := redis.NewRecords[Presence](client, "regd:peers")
//	peers.Put(ctx, nodeID, p, 30*time.Second)
//	all, err := peers.All(ctx)
package redis
