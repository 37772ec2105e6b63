// Package feed publishes every locally originated registry change to a
// Kafka topic for audit and analytics consumers.
//
// Messages are keyed by "service/instance" so all changes to one instance
// land on one partition in version order. The feed is best effort: when
// the outbound queue is full new changes are dropped and counted, and the
// registry itself is never slowed down by the broker.
package feed
