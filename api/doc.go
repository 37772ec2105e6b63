// Package api binds the registry to HTTP. Handlers decode and validate
// requests, call the registry, and translate its results into status codes
// and the errors.AppError envelope. A stale delta cursor becomes 410 Gone.
package api
