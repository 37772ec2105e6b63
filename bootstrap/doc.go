// Package bootstrap runs a regd process: it validates the typed config,
// starts registered components in order, runs lifecycle hooks, blocks until
// a signal arrives and shuts everything down within a graceful timeout.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(evictor)
//	app.RegisterComponent(httpServer)
//	return app.Run(ctx)
package bootstrap
