// Package discovery is the client side of regd.
//
// Client speaks the /v1 HTTP API of one or more registry nodes, failing over
// between them behind a circuit breaker per node. Agent keeps one instance
// registered: it registers on Start, renews on a timer, re-registers when
// the registry no longer knows the instance and cancels on Stop. Resolver
// keeps a local replica of the registry from one snapshot followed by
// deltas and picks instances with a load-balancing Strategy.
//
//	client, _ := discovery.NewClient(discovery.ClientConfig{Servers: []string{"http://regd:8761"}}, log)
//	agent := discovery.NewAgent(client, discovery.AgentConfig{ServiceName: "orders", Host: ip, Port: 8080}, log)
//	resolver := discovery.NewResolver(client, discovery.ResolverConfig{}, log)
//	inst, err := resolver.Select("billing", discovery.RoundRobin)
package discovery
