// Package server runs the regd HTTP listener: one Gin engine serving the
// registry API over HTTP/1.1 and h2c on a single port. A *Server is a
// component.Component, so the bootstrap registry starts and drains it.
//
// Every request passes through the middleware chain in this order:
// recovery, request id, tracing, request log, CORS, then the optional
// rate limit and body size cap. Probe endpoints skip the rate limit.
//
// RegisterDefaultEndpoints adds the operational routes /health, /alive,
// /ready, /info, /metrics and /version. EnableProfiling adds the runtime
// profiler under /debug/pprof/.
package server
