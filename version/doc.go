// Package version reports the regd build. Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/regd/version.Version=1.2.0" ./cmd/regd
//
// Anything not injected is filled from the module's embedded VCS settings.
package version
