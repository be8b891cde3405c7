// synthtree-repl is an interactive shell over a synthtree node graph. It
// accepts commands modelled on a synthesis server's node commands and prints
// the resulting tree.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/phroun/synthtree"
	"github.com/phroun/synthtree/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "synthtree-repl",
		Short: "Interactive shell over a synth node graph",
		Long: `synthtree-repl creates a node graph and reads node commands from
standard input: create synths and groups, place and move them, set controls,
pause and free them, and inspect the tree, the id index and arena usage.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out, errOut io.Writer) error {
	logger, err := config.NewLogger(cfg.Log, errOut)
	if err != nil {
		return err
	}

	g, err := synthtree.New(cfg.Options(logger))
	if err != nil {
		return err
	}
	defer g.Close()

	if cfg.Metrics.ReportInterval > 0 {
		g.StartReporter(cfg.Metrics.ReportInterval)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(g, cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintln(out, "synthtree REPL - node graph shell")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	repl := newREPL(g, out)
	defer repl.releaseAll()

	reader := bufio.NewReader(in)
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "synthtree> ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" && !repl.handleCommand(input) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}
	}
}

// serveMetrics exposes the graph collector and Go runtime metrics over HTTP.
func serveMetrics(g *synthtree.Graph, addr string, logger *slog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		synthtree.NewCollector(g),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return srv
}
