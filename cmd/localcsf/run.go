package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"localcsf/pkg/config"
	"localcsf/pkg/pipeline"
)

type runOptions struct {
	configPath  string
	subject     string
	workers     int
	outputDir   string
	metricsAddr string
	verbose     bool
	noQC        bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute local CSF regressors and corrected time series",
		Long: `Run processes every (run, region) unit of the configured subject.
A failing unit is reported and the remaining units still complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the YAML configuration file")
	cmd.Flags().StringVarP(&opts.subject, "subject", "s", "", "Subject identifier (overrides config and SUBJ)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Number of units processed in parallel (0 keeps the configured value)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Output directory (overrides config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.noQC, "no-qc", false, "Skip quality-control slice images")

	return cmd
}

func loadRunConfig(cmd *cobra.Command, opts *runOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("subject") {
		cfg.Subject = opts.subject
	}
	if cmd.Flags().Changed("workers") {
		cfg.Processing.NumCores = opts.workers
	}
	if cmd.Flags().Changed("output") {
		cfg.Paths.OutputDir = opts.outputDir
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose = opts.verbose
	}
	if opts.noQC {
		cfg.Output.QCSlices = false
	}
	return cfg, nil
}

func runBatch(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadRunConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Output.Verbose)

	settings, err := pipeline.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := pipeline.NewMetrics(reg)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	sink := &pipeline.FileSink{
		OutputDir:               cfg.Paths.OutputDir,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		QCSlices:                cfg.Output.QCSlices,
	}
	runner := pipeline.NewRunner(settings, pipeline.NewFileSource(cfg),
		pipeline.WithSink(sink),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	units := settings.Units()
	logger.WithFields(logrus.Fields{
		"batch":   runner.BatchID(),
		"subject": settings.Subject,
		"runs":    len(settings.Runs),
		"regions": len(settings.Regions),
		"workers": settings.NumCores,
	}).Info("Configuration loaded")

	start := time.Now()
	results := runner.Run(ctx, units)
	failed := printSummary(cmd, results)

	logger.WithFields(logrus.Fields{
		"units":    len(results),
		"failed":   failed,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Summary written")

	if failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, len(results))
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	logger.WithField("addr", addr).Info("Serving metrics")
	return srv
}

func printSummary(cmd *cobra.Command, results []pipeline.Result) int {
	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range results {
		if res.OK() {
			line := fmt.Sprintf("OK    %-40s %s voxels=%d", res.Unit, res.Reached, res.LocalCSFVoxels)
			if res.Warning != nil {
				line += fmt.Sprintf(" dropped=%v", res.Warning.Dropped)
			}
			fmt.Fprintln(out, line)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %-40s reached=%s %v\n", res.Unit, res.Reached, res.Err)
	}
	fmt.Fprintf(out, "\n%d units, %d succeeded, %d failed\n", len(results), len(results)-failed, failed)
	return failed
}
