// Command regd runs a service registry node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/kbukum/regd/api"
	"github.com/kbukum/regd/bootstrap"
	"github.com/kbukum/regd/config"
	"github.com/kbukum/regd/feed"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/observability"
	"github.com/kbukum/regd/peer"
	"github.com/kbukum/regd/registry"
	"github.com/kbukum/regd/server"
	"github.com/kbukum/regd/server/endpoint"
	"github.com/kbukum/regd/sse"
	"github.com/kbukum/regd/version"
)

const serviceName = "regd"

func main() {
	configFile := pflag.StringP("config", "c", "", "path to config.yml (default: searched)")
	envFile := pflag.String("env-file", "", "path to a .env file (default: searched)")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(context.Background(), *configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "regd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, envFile string) error {
	var cfg Config
	opts := []config.LoaderOption{config.WithEnvPrefix("REGD")}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Version
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	if err := wire(app); err != nil {
		return err
	}
	return app.Run(ctx)
}

// wire builds the registry and registers components in start order. The
// telemetry component comes first so the global meter and tracer providers
// are installed before anything records.
func wire(app *bootstrap.App[*Config]) error {
	cfg, log := app.Cfg, app.Logger

	telemetry := observability.New(cfg.Observability, cfg.Name, cfg.Version, log)
	if err := app.RegisterComponent(telemetry); err != nil {
		return err
	}

	// otel.Meter delegates to whichever provider is global once telemetry
	// has started.
	reg, err := registry.New(cfg.Registry, log, registry.WithMeter(otel.Meter("github.com/kbukum/regd/registry")))
	if err != nil {
		return err
	}
	log.Info("registry created", logger.Fields(
		"node_id", reg.NodeID(),
		"default_lease", cfg.Registry.DefaultLeaseDuration.String(),
		"leeway_factor", cfg.Registry.LeewayFactor,
	))

	if err := app.RegisterComponent(registry.NewEvictor(reg, log)); err != nil {
		return err
	}

	stats := map[string]endpoint.StatsFunc{
		"registry": func() any { return reg.Stats() },
	}

	if cfg.Peer.Enabled {
		rep := peer.New(reg, cfg.Peer, log)
		if err := app.RegisterComponent(rep); err != nil {
			return err
		}
		stats["peer"] = func() any { return rep.Stats() }
	}
	if cfg.Feed.Enabled {
		f := feed.New(reg, cfg.Feed, log)
		if err := app.RegisterComponent(f); err != nil {
			return err
		}
		stats["feed"] = func() any { return f.Stats() }
	}

	var handlerOpts []api.Option
	if cfg.Watch.Enabled {
		hub := sse.NewHub(cfg.Watch, log)
		attach := func(h *sse.Hub) func() { return reg.OnChange(api.ChangePublisher(h, log)) }
		if err := app.RegisterComponent(sse.NewComponent(hub, "/v1/watch", attach)); err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, api.WithWatch(hub))
		stats["watch"] = func() any { return hub.Stats() }
	}

	srv := server.New(cfg.Server, log)
	srv.ApplyMiddleware(nil)
	if cfg.Debug {
		srv.EnableProfiling()
	}
	srv.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll, stats)
	api.NewHandler(reg, log, handlerOpts...).Mount(srv.GinEngine())

	app.OnStop(func(context.Context) error {
		st := reg.Stats()
		log.Info("registry state at shutdown", logger.Fields(
			"version", st.Version,
			"instances", st.Instances,
			"services", st.Services,
		))
		return nil
	})
	return app.RegisterComponent(srv)
}
