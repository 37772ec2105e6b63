// Package sse streams events to HTTP clients as Server-Sent Events.
//
// A Hub fans published events out to registered clients. Each client
// subscribes with a glob pattern matched against the event topic, e.g.
// "orders" or "pay*". Events carry monotonically increasing ids so a
// reconnecting client can resume from its Last-Event-ID.
//
// Slow clients are disconnected rather than skipped: a stream never has
// silent gaps, and a disconnected client resumes from its last id.
//
// # Usage
//
//	hub := sse.NewHub(cfg, log)
//	go hub.Run()
//	hub.Publish("orders", sse.Event{ID: 7, Type: "ADDED", Data: body})
package sse
