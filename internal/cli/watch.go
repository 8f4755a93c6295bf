package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/notify"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Input string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Dispatch deep links read line by line",
		Long: `Start the dispatcher and feed it one deep link per line.

Links are read from --input, or stdin when no file is given. Blank lines
and lines starting with // are ignored. Every dispatcher event is written
to stdout as "<subject> <json>" (text) or as one JSON object per line
(json). The command exits when the input ends and every link has been
handled, or on SIGINT/SIGTERM.

Example:
  echo '#/m/pump-7?c=acme' | fleetsync watch --db ./fleetsync.db
  fleetsync watch --input links.txt --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "file with one link per line (default stdin)")

	return cmd
}

// streamConn writes published events to a writer instead of NATS.
type streamConn struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (c *streamConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.json {
		_, err = fmt.Fprintf(c.w, "%s\n", data)
	} else {
		_, err = fmt.Fprintf(c.w, "%s %s\n", subject, data)
	}
	return err
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	var in io.Reader = cmd.InOrStdin()
	if opts.Input != "" {
		file, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer file.Close()
		in = file
	}

	stream := notify.New(&streamConn{w: cmd.OutOrStdout(), json: opts.Format == "json"}, "")
	a, err := openApp(opts.RootOptions, stream)
	if err != nil {
		return err
	}
	defer a.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd.Context()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	src := dispatch.NewLineSource(in)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-src.Done():
			// Input exhausted; drain what is queued, then stop.
			a.dispatcher.Stop()
		case <-ctx.Done():
		}
	}()

	if a.cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(a.cfg.Metrics.Addr, a.metrics.Handler())
		defer shutdown()
	}

	slog.Debug("watching links", "input", opts.Input, "store", a.cfg.Store.Path)
	if err := a.dispatcher.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "dispatcher error", err)
	}

	slog.Info("dispatcher stopped gracefully")
	return nil
}

// serveMetrics exposes handler on addr at /metrics and returns a shutdown func.
func serveMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics shutdown", "error", err)
		}
	}
}
