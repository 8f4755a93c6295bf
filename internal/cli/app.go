package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/roach88/fleetsync/internal/config"
	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/fleet"
	"github.com/roach88/fleetsync/internal/machinesync"
	"github.com/roach88/fleetsync/internal/metrics"
	"github.com/roach88/fleetsync/internal/notify"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/route"
	"github.com/roach88/fleetsync/internal/store"
)

// app is the component graph shared by the commands that touch the store.
type app struct {
	cfg        *config.Config
	store      store.Backend
	machines   *machinesync.Synchronizer
	fleets     *fleet.Provisioner
	metrics    *metrics.Collector
	dispatcher *dispatch.Dispatcher
	closers    []func()
}

// loadConfig reads --config and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	return cfg, nil
}

// setupLogging installs a text slog handler on stderr. --verbose forces debug.
func setupLogging(opts *RootOptions, cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func newResolver(cfg *config.Config) *route.Resolver {
	return route.NewResolver(cfg.Remote.BaseURL)
}

func urlPolicy(cfg *config.Config) refdata.URLPolicy {
	return refdata.URLPolicy{
		AllowHTTP:    cfg.Remote.AllowHTTP,
		AllowedHosts: cfg.Remote.AllowedHosts,
	}
}

// openApp loads config, opens the store and wires every component. The
// extra listeners receive dispatcher events alongside metrics and NATS.
func openApp(opts *RootOptions, extra ...dispatch.Listener) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	setupLogging(opts, cfg)

	slog.Debug("opening store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	st, err := store.OpenBackend(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	a := &app{cfg: cfg, store: st}
	a.closers = append(a.closers, func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	})

	policy := urlPolicy(cfg)
	client := &http.Client{Timeout: cfg.Remote.Timeout}

	svc := refdata.NewHTTPService(st,
		refdata.WithHTTPClient(client),
		refdata.WithPolicy(policy),
	)
	a.machines = machinesync.New(st, svc)

	fetcher := fleet.NewHTTPFetcher(policy)
	fetcher.Client = client
	a.fleets = fleet.New(st, fleet.AutoFetcher{HTTP: fetcher})

	a.metrics = metrics.NewCollector()
	listeners := dispatch.Listeners{a.metrics}
	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to nats", err)
		}
		a.closers = append(a.closers, nc.Close)
		listeners = append(listeners, notify.New(nc, cfg.NATS.SubjectPrefix))
		slog.Info("publishing events", "nats", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}
	listeners = append(listeners, extra...)

	policyName, err := dispatch.ParsePolicy(cfg.Engine.OverlapPolicy)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	dopts := []dispatch.Option{
		dispatch.WithResolver(newResolver(cfg)),
		dispatch.WithListener(listeners),
		dispatch.WithPolicy(policyName),
	}
	if opts.TraceGenerator != nil {
		dopts = append(dopts, dispatch.WithTraceGenerator(opts.TraceGenerator))
	}
	a.dispatcher = dispatch.New(a.machines, a.fleets, dopts...)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// commandContext returns the command's context, or Background in tests
// that call RunE directly.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// newFormatter builds the formatter for a command's output streams.
func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
