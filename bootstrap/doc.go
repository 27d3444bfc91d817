// Package bootstrap runs a service's lifecycle: it validates the typed
// config, starts registered components in order, runs configure callbacks
// and hooks, prints a startup summary and shuts everything down in reverse
// on a signal.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(db)
//	app.OnConfigure(func(ctx context.Context, a *bootstrap.App[*app.Config]) error {
//	    return wire(a)
//	})
//	err = app.Run(ctx)
package bootstrap
