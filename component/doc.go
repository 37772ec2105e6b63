// Package component defines lifecycle-managed parts of a regd process
// (HTTP server, evictor, peer replicator, change feed) and a Registry that
// starts them in order and stops them in reverse.
package component
