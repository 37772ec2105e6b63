// Package errors provides the structured error type shared by the registry
// core, its HTTP transport and the discovery client. Every AppError carries a
// machine-readable code, the HTTP status it maps to, and whether the caller
// may retry.
package errors
