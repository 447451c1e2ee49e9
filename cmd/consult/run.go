package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/consultmesh"
	"github.com/hupe1980/consultmesh/config"
	"github.com/hupe1980/consultmesh/confirm"
	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/logging"
	"github.com/hupe1980/consultmesh/metrics"
	"github.com/hupe1980/consultmesh/registry"
)

type runFlags struct {
	caseText    string
	roles       []string
	preset      string
	provider    string
	model       string
	rounds      int
	budget      float64
	out         string
	metricsAddr string
	yes         bool
	synthesize  bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliberate a case",
		Long: `Run one deliberation session.

The case is given with --case, either as literal text or as the path of a
file holding the description. Roles come from --roles, from a --preset case
type, or from deliberation.roles in the configuration.

Unless --yes is given and deliberation.require_confirmation is set, the
estimated cost is shown and must be confirmed before the first call.`,
		Example: `  consult run --case case.txt --preset autonomy --out report.json
  consult run --provider sim --case "Family requests futile treatment" --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.run(cmd, g)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.caseText, "case", "", "case text or path of a file containing it (required)")
	fl.StringSliceVar(&f.roles, "roles", nil, "comma separated role ids")
	fl.StringVar(&f.preset, "preset", "", "role panel for a case type (see 'consult roles --presets')")
	fl.StringVar(&f.provider, "provider", "", "responder provider: openai, anthropic or sim")
	fl.StringVar(&f.model, "model", "", "model name")
	fl.IntVar(&f.rounds, "rounds", 0, "maximum number of rounds")
	fl.Float64Var(&f.budget, "budget", 0, "cost budget in USD")
	fl.StringVarP(&f.out, "out", "o", "", "write the snapshot as JSON to this file (- for stdout)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fl.BoolVarP(&f.yes, "yes", "y", false, "skip the cost confirmation")
	fl.BoolVar(&f.synthesize, "synthesize", false, "close a completed session with a final consensus synthesis")
	_ = cmd.MarkFlagRequired("case")

	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()

	if fl.Changed("provider") {
		cfg.Model.Provider = f.provider
		if !fl.Changed("model") {
			cfg.Model.Name = config.DefaultModelName(f.provider)
		}
	}
	if fl.Changed("model") {
		cfg.Model.Name = f.model
	}
	if fl.Changed("rounds") {
		cfg.Deliberation.MaxRounds = f.rounds
		if cfg.Deliberation.MinRounds > f.rounds {
			cfg.Deliberation.MinRounds = f.rounds
		}
	}
	if fl.Changed("budget") {
		b := f.budget
		cfg.Deliberation.CostBudget = &b
	}
	if f.yes {
		cfg.Deliberation.RequireConfirmation = false
	}
	if fl.Changed("synthesize") {
		cfg.Deliberation.FinalSynthesis = f.synthesize
	}

	switch {
	case len(f.roles) > 0:
		cfg.Deliberation.Roles = f.roles
	case f.preset != "":
		if _, ok := registry.Presets[f.preset]; !ok {
			return fmt.Errorf("%w: unknown preset %q", core.ErrInvalidConfiguration, f.preset)
		}
		cfg.Deliberation.Roles = registry.Preset(f.preset)
	}

	if errs := cfg.Validate(); errs != nil {
		return errs
	}

	return nil
}

func (f *runFlags) run(cmd *cobra.Command, g *globalFlags) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return err
	}

	caseText, err := readCase(f.caseText)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var collector *metrics.Collector
	if f.metricsAddr != "" {
		var shutdown func()
		collector, shutdown = serveMetrics(f.metricsAddr, logger)
		defer shutdown()
	}

	var confirmer core.Confirmer = confirm.AutoApprove{}
	if cfg.Deliberation.RequireConfirmation {
		confirmer = confirm.NewPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	mesh, err := consultmesh.New(func(o *consultmesh.Options) {
		o.Config = cfg
		o.Registry = reg
		o.Confirmer = confirmer
		o.Metrics = collector
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	snap, err := mesh.Deliberate(ctx, caseText)
	if err != nil {
		return err
	}

	if f.out == "-" {
		return writeJSON(cmd.OutOrStdout(), snap)
	}

	printSummary(cmd.OutOrStdout(), snap)

	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()

		if err := writeJSON(file, snap); err != nil {
			return err
		}
	}

	if snap.AbortReason == core.AbortConfirmationDeclined {
		return nil
	}

	return snap.Err()
}

// readCase treats value as a path when a file with that name exists.
func readCase(value string) (string, error) {
	if info, err := os.Stat(value); err == nil && !info.IsDir() {
		data, err := os.ReadFile(value)
		if err != nil {
			return "", fmt.Errorf("read case: %w", err)
		}
		value = string(data)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: case text is empty", core.ErrInvalidConfiguration)
	}

	return value, nil
}

func writeJSON(w io.Writer, snap core.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return nil
}

func printSummary(w io.Writer, snap core.Snapshot) {
	fmt.Fprintf(w, "Session:   %s\n", snap.ID)
	fmt.Fprintf(w, "Roles:     %s\n", strings.Join(snap.Roles, ", "))

	state := string(snap.State)
	if snap.AbortReason != core.AbortNone {
		state += " (" + string(snap.AbortReason) + ")"
	}
	fmt.Fprintf(w, "State:     %s\n", state)
	fmt.Fprintf(w, "Consensus: %t\n", snap.ConsensusReached)

	for _, r := range snap.Rounds {
		mean := "n/a"
		if r.Agreement != nil && r.Agreement.Mean != nil {
			mean = fmt.Sprintf("%.2f", *r.Agreement.Mean)
		}
		fmt.Fprintf(w, "Round %d:   %d ok, %d failed, %d skipped, mean agreement %s\n", r.Index,
			r.Count(core.OutcomeOK), r.Count(core.OutcomeFailed), r.Count(core.OutcomeSkipped), mean)
	}

	if e := snap.Evaluation; e != nil {
		fmt.Fprintf(w, "Score:     %.2f\n", e.Overall)
		for _, c := range e.SortedCriteria() {
			fmt.Fprintf(w, "  %-24s %.2f\n", c, e.Score(c))
		}
	}

	if fc := snap.FinalConsensus; fc != nil {
		if fc.OK() {
			fmt.Fprintf(w, "Consensus recommendation (confidence %.2f):\n  %s\n", fc.Confidence, fc.Recommendation)
			for _, c := range fc.Considerations {
				fmt.Fprintf(w, "  - %s\n", c)
			}
		} else {
			fmt.Fprintf(w, "Synthesis: failed (%s)\n", fc.Error)
		}
	}

	fmt.Fprintf(w, "Cost:      $%.4f (%d in / %d out tokens, %d attempts, %d failed)\n",
		snap.Cost.Cost, snap.Cost.TokensIn, snap.Cost.TokensOut, snap.Cost.Attempts, snap.Cost.FailedAttempts)
}

// serveMetrics exposes a dedicated registry on addr until shutdown is called.
func serveMetrics(addr string, logger logging.Logger) (*metrics.Collector, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.server.failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics.server.started", "addr", addr)

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
