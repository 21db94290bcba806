// Command bdqrun assesses Darwin Core occurrence files against a test
// registry. It runs each input through the assessment engine, writes the
// raw-results and amended-dataset tables next to the input, and prints a
// digest summary. With -serve it also exposes the job status API and
// Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bdqcore/internal/engine"
	"bdqcore/internal/infra/artifacts"
	"bdqcore/internal/infra/history"
	"bdqcore/internal/provider/demo"
	"bdqcore/internal/provider/remote"
	"bdqcore/internal/registry"
	"bdqcore/internal/service"
	"bdqcore/pkg/bdq"
)

var (
	exitFunc = os.Exit
	// signalContext is swapped in tests to drive shutdown.
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bdqrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath   = fs.String("config", defaultConfigPath, "path to the YAML run configuration")
		registryPath = fs.String("registry", "", "path to the test registry CSV (default: built-in demo registry)")
		providerName = fs.String("provider", "", "test provider: demo or remote")
		endpoint     = fs.String("endpoint", "", "remote provider URL")
		outputDir    = fs.String("output-dir", "", "directory for result files (default: next to each input)")
		serveAddr    = fs.String("serve", "", "address for the status/metrics listener, e.g. :8440")
		logLevel     = fs.String("log-level", "", "log level: debug, info, warn, or error")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, flagWasSet(fs, "config"))
	if err != nil {
		fmt.Fprintf(stderr, "bdqrun: %v\n", err)
		return 2
	}
	if *registryPath != "" {
		cfg.Registry = *registryPath
	}
	if *providerName != "" {
		cfg.Provider = *providerName
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *serveAddr != "" {
		cfg.Serve = *serveAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.Inputs = append(cfg.Inputs, fs.Args()...)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(stderr, "bdqrun: %v\n", err)
		return 2
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "bdqrun: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, log, stdout); err != nil {
		fmt.Fprintf(stderr, "bdqrun: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config, log *zap.Logger, stdout io.Writer) error {
	reg, err := loadRegistry(cfg.Registry, log)
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics, err := service.NewMetrics(promRegistry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	runner := engine.NewRunner(reg, provider,
		engine.WithLogger(service.EngineLogger(log)),
		engine.WithMetricsRecorder(metrics))

	inputs, err := resolveInputs(cfg.Inputs)
	if err != nil {
		return err
	}
	if len(inputs) == 0 && cfg.Serve == "" {
		return fmt.Errorf("no inputs matched %v", cfg.Inputs)
	}

	if cfg.Serve != "" {
		return runServer(ctx, cfg, log, runner, metrics, promRegistry, inputs, stdout)
	}
	return runLocal(ctx, cfg, log, runner, inputs, stdout)
}

// runLocal assesses each input and writes the result tables next to it (or
// into the configured output directory). Fatal jobs are reported and counted;
// the remaining inputs still run.
func runLocal(ctx context.Context, cfg config, log *zap.Logger, runner *engine.Runner, inputs []string, stdout io.Writer) error {
	overrides, warnings := engine.ParseOverrides(cfg.Overrides)
	for _, w := range warnings {
		log.Warn("override ignored", zap.String("warning", w))
	}

	failed := 0
	for _, input := range inputs {
		payload, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read %s: %w", input, err)
		}
		res, err := runner.Run(ctx, engine.JobRequest{
			Input:     payload,
			Filename:  filepath.Base(input),
			Overrides: overrides,
		})
		if err != nil {
			failed++
			log.Error("job failed",
				zap.String("input", input),
				zap.String("kind", string(bdq.KindOf(err))),
				zap.Error(err))
			fmt.Fprintf(stdout, "%s: failed (%s): %v\n", input, bdq.KindOf(err), err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		rawPath, amendedPath := outputPaths(input, cfg.OutputDir)
		if err := writeTable(rawPath, res.RawResults); err != nil {
			return err
		}
		if err := writeTable(amendedPath, res.Amended); err != nil {
			return err
		}
		printSummary(stdout, input, res)
		fmt.Fprintf(stdout, "  wrote %s and %s\n", rawPath, amendedPath)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(inputs))
	}
	return nil
}

// runServer processes the inputs through the work-item service, then serves
// the status API and metrics until interrupted.
func runServer(ctx context.Context, cfg config, log *zap.Logger, runner *engine.Runner, metrics *service.Metrics, gatherer prometheus.Gatherer, inputs []string, stdout io.Writer) error {
	hist, err := history.Open(ctx)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	store, err := artifacts.Open(ctx)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	svc, err := service.New(service.Config{
		Runner:    runner,
		History:   hist,
		Artifacts: store,
		Logger:    log,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, input := range inputs {
		payload, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read %s: %w", input, err)
		}
		res, err := svc.Process(ctx, service.WorkItem{
			MessageID: uuid.NewString(),
			Subject:   filepath.Base(input),
			Filename:  filepath.Base(input),
			Payload:   payload,
			Overrides: cfg.Overrides,
		})
		if err != nil {
			return fmt.Errorf("process %s: %w", input, err)
		}
		if res.Job.Status == history.StatusFailed {
			failed++
		}
		fmt.Fprintf(stdout, "%s: job %s %s\n", input, res.Job.ID, res.Job.Status)
	}
	if failed > 0 {
		fmt.Fprintf(stdout, "%d of %d inputs failed\n", failed, len(inputs))
	}

	mux := newMux(service.NewHandler(hist, store), gatherer)
	srv := &http.Server{Addr: cfg.Serve, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Info("serving status API", zap.String("addr", cfg.Serve))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newMux(jobs http.Handler, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/jobs", jobs)
	mux.Handle("/api/v1/jobs/", jobs)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// loadRegistry reads the descriptor table, falling back to the demo
// provider's built-in table when no path is configured.
func loadRegistry(path string, log *zap.Logger) (*registry.Registry, error) {
	var reg *registry.Registry
	var warnings []string
	var err error
	if path == "" {
		reg, warnings, err = registry.Load(strings.NewReader(demo.DefaultRegistry))
		if err != nil {
			return nil, fmt.Errorf("built-in registry: %w", err)
		}
	} else {
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open registry: %w", openErr)
		}
		defer f.Close()
		reg, warnings, err = registry.Load(f)
		if err != nil {
			return nil, fmt.Errorf("registry %s: %w", path, err)
		}
	}
	for _, w := range warnings {
		log.Warn("registry warning", zap.String("warning", w))
	}
	return reg, nil
}

func buildProvider(cfg config) (bdq.Provider, error) {
	switch cfg.Provider {
	case providerDemo:
		return demo.New(), nil
	case providerRemote:
		return remote.New(remote.Config{Endpoint: cfg.Endpoint})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func outputPaths(input, outputDir string) (raw, amended string) {
	dir := filepath.Dir(input)
	if outputDir != "" {
		dir = outputDir
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+"_raw_results.csv"),
		filepath.Join(dir, stem+"_amended.csv")
}

func writeTable(path string, table *engine.Table) error {
	data, err := table.Bytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printSummary(w io.Writer, input string, res *engine.JobResult) {
	d := res.Digest
	fmt.Fprintf(w, "%s: %d rows, %d tests, %d distinct tuples, %d provider calls\n",
		input, d.Rows, d.PlannedTests, d.DistinctTuples, res.Stats.ProviderCalls)
	for _, t := range d.PerTest {
		fmt.Fprintf(w, "  %s: %s\n", t.ID, countsLine(t))
	}
	for _, warning := range d.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func countsLine(t engine.TestSummary) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	if t.Type == bdq.TypeAmendment {
		add(t.Amended, "amended")
		add(t.FilledIn, "filled in")
		add(t.Passed, "unchanged")
		add(t.Failed, "failed")
	} else {
		add(t.Passed, "passed")
		add(t.Failed, "failed")
	}
	add(t.Skipped, "skipped")
	if len(parts) == 0 {
		return "no rows"
	}
	return strings.Join(parts, ", ")
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
