// Package main provides the hybrid-ranx command line tool: normalize, fuse,
// optimize and compare rankings, or serve the benchmark over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MochiXu/hybrid-search-ranx/internal/benchmark"
	"github.com/MochiXu/hybrid-search-ranx/internal/bus"
	"github.com/MochiXu/hybrid-search-ranx/internal/compare"
	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/metrics"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/security"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
	"github.com/MochiXu/hybrid-search-ranx/internal/report"
	"github.com/MochiXu/hybrid-search-ranx/internal/server"
	"github.com/MochiXu/hybrid-search-ranx/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hybrid-ranx",
		Short: "Rank fusion and evaluation for hybrid search",
		Long: `hybrid-ranx normalizes lexical and vector rankings, fuses them with a
family of fusion methods, tunes each method's parameters against relevance
judgments and reports which rankings differ significantly.

Run 'hybrid-ranx compare --help' for the full benchmark.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	rootCmd.AddCommand(
		normalizeCmd(),
		fuseCmd(),
		optimizeCmd(),
		compareCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger from the global flags.
func setup(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// app is a benchmark service with its store and bus.
type app struct {
	svc   *benchmark.Service
	store store.Store
	bus   bus.Bus
	log   *logger.Logger
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	svc, err := benchmark.NewService(cfg, st, b, log)
	if err != nil {
		b.Close()
		st.Close()
		return nil, err
	}
	return &app{svc: svc, store: st, bus: b, log: log}, nil
}

func (r *app) Close() {
	if err := r.bus.Close(); err != nil {
		r.log.Warn("Error closing event bus", "error", err)
	}
	if err := r.store.Close(); err != nil {
		r.log.Warn("Error closing store", "error", err)
	}
}

// addRunFlags registers the flags shared by every command reading runs.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("run", "r", nil, "input run as name=path[:normalization] (repeatable)")
}

func inputsFromFlags(cmd *cobra.Command) ([]benchmark.Input, error) {
	specs, _ := cmd.Flags().GetStringArray("run")
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --run is required")
	}
	return loadInputs(specs)
}

func qrelsFromFlags(cmd *cobra.Command, required bool) (ranking.Qrels, error) {
	path, _ := cmd.Flags().GetString("qrels")
	if path == "" {
		if required {
			return nil, fmt.Errorf("--qrels is required")
		}
		return nil, nil
	}
	return ranking.LoadQrelsFile(path)
}

func normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rescale run scores onto a comparable domain",
		Long: `Normalize every --run and write the result. With one run, -o names the
output file (stdout when empty); with several, -o is a directory that
receives <name>.json per run.`,
		Example: `  hybrid-ranx normalize --run bm25=bm25.json --mode min-max -o bm25.norm.json
  hybrid-ranx normalize --run bm25=bm25.json --run dense=dense.json:min-max-inverted -o normalized/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
				cfg.Fusion.Normalization = mode
			}
			inputs, err := inputsFromFlags(cmd)
			if err != nil {
				return err
			}
			svc, err := benchmark.NewService(cfg, nil, nil, log)
			if err != nil {
				return err
			}
			runs, err := svc.Normalize(inputs)
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			switch {
			case len(runs) == 1 && out == "":
				return runs[0].WriteJSON(cmd.OutOrStdout())
			case len(runs) == 1:
				return runs[0].WriteFile(out)
			case out == "":
				return fmt.Errorf("-o must name a directory when normalizing several runs")
			}
			return writeRuns(out, runs)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().StringP("mode", "m", "", "default normalization (min-max, min-max-inverted, rank, max, sum, zmuv, borda, none)")
	cmd.Flags().StringP("output", "o", "", "output file, or directory for several runs")
	return cmd
}

func fuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Fuse runs with one method and explicit parameters",
		Long: `Normalize the runs and fuse them with --method. Parameters start from the
method's defaults and are overridden with --param key=value. Learned
methods are trained on --qrels first.

Parameter keys: k, gamma, phi, sigma, segments, window, positions, buckets,
alpha, beta, weights (comma separated).`,
		Example: `  hybrid-ranx fuse --run bm25=bm25.json --run dense=dense.json --method rrf --param k=10 -o fused.json
  hybrid-ranx fuse --run bm25=bm25.json --run dense=dense.json --method wsum --param weights=0.3,0.7
  hybrid-ranx fuse --qrels qrels.json --run bm25=bm25.json --run dense=dense.json --method probfuse`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			methodName, _ := cmd.Flags().GetString("method")
			method, err := fusion.ParseMethod(methodName)
			if err != nil {
				return err
			}
			inputs, err := inputsFromFlags(cmd)
			if err != nil {
				return err
			}
			qrels, err := qrelsFromFlags(cmd, method.Learned())
			if err != nil {
				return err
			}

			svc, err := benchmark.NewService(cfg, nil, nil, log)
			if err != nil {
				return err
			}
			runs, err := svc.Normalize(inputs)
			if err != nil {
				return err
			}

			rawParams, _ := cmd.Flags().GetStringArray("param")
			params, err := parseParams(method, len(runs), rawParams)
			if err != nil {
				return err
			}
			if method.Learned() {
				if params, err = fusion.Train(qrels, runs, method, params); err != nil {
					return err
				}
			}
			fused, err := fusion.Fuse(runs, method, params)
			if err != nil {
				return err
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				fused = fused.WithName(name)
			}

			log.Info("Fused runs", "method", string(method), "runs", len(runs), "queries", len(fused.Scores))
			if out, _ := cmd.Flags().GetString("output"); out != "" {
				return fused.WriteFile(out)
			}
			return fused.WriteJSON(cmd.OutOrStdout())
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("qrels", "", "relevance judgments (required for learned methods)")
	cmd.Flags().String("method", "rrf", "fusion method")
	cmd.Flags().StringArrayP("param", "p", nil, "method parameter as key=value (repeatable)")
	cmd.Flags().String("name", "", "name of the fused run (default: the method's name)")
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	return cmd
}

func optimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search each method's parameters for the best target metric",
		Example: `  hybrid-ranx optimize --qrels qrels.json --run bm25=bm25.json --run dense=dense.json --method wsum --metric mrr@10
  hybrid-ranx optimize --qrels qrels.json --run bm25=bm25.json --run dense=dense.json --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if names, _ := cmd.Flags().GetStringSlice("method"); len(names) > 0 {
				cfg.Fusion.Methods = names
			}
			if metric, _ := cmd.Flags().GetString("metric"); metric != "" {
				cfg.Optimize.Metric = metric
			}
			if cmd.Flags().Changed("weight-step") {
				cfg.Optimize.WeightStep, _ = cmd.Flags().GetFloat64("weight-step")
			}
			if cmd.Flags().Changed("holdout") {
				cfg.Optimize.HoldoutFraction, _ = cmd.Flags().GetFloat64("holdout")
			}

			qrels, err := qrelsFromFlags(cmd, true)
			if err != nil {
				return err
			}
			inputs, err := inputsFromFlags(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.svc.Normalize(inputs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			defaults := a.svc.Defaults()
			results := make([]*benchmark.Optimized, 0, len(defaults.Methods))
			for _, method := range defaults.Methods {
				res, err := a.svc.Optimize(ctx, qrels, runs, method, defaults.Target)
				if err != nil {
					return err
				}
				results = append(results, res)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return writeOptimized(cmd.OutOrStdout(), results)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("qrels", "", "relevance judgments")
	cmd.Flags().StringSlice("method", nil, "fusion methods (default: configured methods)")
	cmd.Flags().String("metric", "", "target metric, e.g. mrr@10 (default: configured)")
	cmd.Flags().Float64("weight-step", 0.1, "weight grid resolution in (0,1]")
	cmd.Flags().Float64("holdout", 0, "fraction of queries held out from training")
	cmd.Flags().Bool("json", false, "print results as JSON")
	return cmd
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Optimize and fuse every method, then compare all rankings",
		Long: `Run the full benchmark: normalize the runs, optimize and fuse every
method, evaluate the original and fused runs on every metric and test each
pair for a significant difference.

The table marks each score with the letters of the runs it significantly
beats.`,
		Example: `  hybrid-ranx compare --qrels qrels.json --run bm25=bm25.json --run dense=dense.json:min-max-inverted
  hybrid-ranx compare --qrels qrels.json --run bm25=bm25.json --run dense=dense.json \
      --methods rrf,wsum --metrics mrr@10,map@10,ndcg@10 --alpha 0.01 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if names, _ := cmd.Flags().GetStringSlice("methods"); len(names) > 0 {
				cfg.Fusion.Methods = names
			}
			if names, _ := cmd.Flags().GetStringSlice("metrics"); len(names) > 0 {
				cfg.Eval.Metrics = names
			}
			if target, _ := cmd.Flags().GetString("target"); target != "" {
				cfg.Optimize.Metric = target
			}
			if cmd.Flags().Changed("alpha") {
				cfg.Eval.Alpha, _ = cmd.Flags().GetFloat64("alpha")
			}
			if test, _ := cmd.Flags().GetString("test"); test != "" {
				cfg.Eval.StatTest = test
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			qrels, err := qrelsFromFlags(cmd, true)
			if err != nil {
				return err
			}
			inputs, err := inputsFromFlags(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := a.svc.Run(ctx, benchmark.Request{Qrels: qrels, Inputs: inputs})
			if err != nil {
				return err
			}

			if dir, _ := cmd.Flags().GetString("fused-dir"); dir != "" {
				if err := writeRuns(dir, resp.Fused); err != nil {
					return err
				}
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return report.WriteJSON(cmd.OutOrStdout(), resp.Report)
			}
			digits, _ := cmd.Flags().GetInt("digits")
			return report.Write(cmd.OutOrStdout(), resp.Report, report.Options{Digits: digits})
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("qrels", "", "relevance judgments")
	cmd.Flags().StringSlice("methods", nil, "fusion methods (default: configured methods)")
	cmd.Flags().StringSlice("metrics", nil, "metrics, e.g. mrr@10,map@10,ndcg@10 (default: configured)")
	cmd.Flags().String("target", "", "metric the parameter search maximizes (default: configured)")
	cmd.Flags().Float64("alpha", compare.DefaultOptions().Alpha, "significance threshold")
	cmd.Flags().String("test", "", "significance test (student, fisher)")
	cmd.Flags().Int("digits", report.DefaultDigits, "score precision in the table")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().String("fused-dir", "", "directory receiving the fused runs")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the benchmark over HTTP",
		Long: `Start the HTTP server:
  POST /v1/benchmark/compare  run a benchmark (JSON, or ?format=table)
  GET  /healthz               health check
  GET  /v1/version            version
  GET  /metrics               Prometheus metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("rate-limit") {
				cfg.Server.RateLimit, _ = cmd.Flags().GetInt("rate-limit")
			}

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, topic := range []string{bus.TopicOptimized, bus.TopicCompared} {
				if err := a.bus.Subscribe(cmd.Context(), topic, logEvent(log)); err != nil {
					return err
				}
			}

			m := metrics.New()
			if err := m.Subscribe(cmd.Context(), a.bus); err != nil {
				return err
			}

			srv := server.New(server.ConfigFrom(cfg.Server, version), a.svc, log, server.WithMetrics(m.Handler()))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("Shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}

	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	cmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	cmd.Flags().Int("rate-limit", 0, "requests per minute per client (0 disables)")
	return cmd
}

func logEvent(log *logger.Logger) bus.Handler {
	return func(_ context.Context, event bus.Event) error {
		log.Info("Benchmark event", "topic", event.Type, "event_id", event.ID, "payload", event.Payload)
		return nil
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hybrid-ranx %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}
}

// writeRuns writes each run to dir/<name>.json.
func writeRuns(dir string, runs []*ranking.Run) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, run := range runs {
		if err := security.ValidateRunName(run.Name); err != nil {
			return err
		}
		if err := run.WriteFile(filepath.Join(dir, run.Name+".json")); err != nil {
			return err
		}
	}
	return nil
}
