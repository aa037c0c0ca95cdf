package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lyricwulf/pdf-ruiner/config"
	"github.com/lyricwulf/pdf-ruiner/discover"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/render"
	"github.com/lyricwulf/pdf-ruiner/report"
	"github.com/lyricwulf/pdf-ruiner/ruin"
	"github.com/lyricwulf/pdf-ruiner/scripting"
	"github.com/lyricwulf/pdf-ruiner/strategy"
	"github.com/lyricwulf/pdf-ruiner/transform"
)

type flags struct {
	config     string
	out        string
	strategies []string
	summary    string
	report     string
	include    []string
	exclude    []string
	dpi        float64
	keepGoing  bool
	password   string
	policy     string
	color      string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	d := config.Defaults()
	cmd := &cobra.Command{
		Use:   "pdfruin [path]",
		Short: "Reverse visual redactions in PDF files",
		Long: "pdfruin undoes redactions that only cover content: filled rectangles become outlines,\n" +
			"covering annotations are hidden and near-uniform images are whited out. Each changed page\n" +
			"is scored by how much previously hidden content became visible.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), args[0], s, stdout, stderr)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "config file (default ./.pdfruin.yml, then $XDG_CONFIG_HOME/pdfruin/config.yml)")
	fl.StringVarP(&f.out, "out", "o", d.Out, "output directory")
	fl.StringSliceVarP(&f.strategies, "strategy", "s", d.Strategies, "strategy to apply (repeatable): "+strings.Join(kindNames(), ", "))
	fl.StringVar(&f.summary, "summary", d.Summary, "summary CSV path")
	fl.StringVar(&f.report, "report", "", "write an HTML report to this path")
	fl.StringSliceVar(&f.include, "include", nil, "only process files matching these globs")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "skip files matching these globs")
	fl.Float64Var(&f.dpi, "dpi", d.DPI, "render resolution for scoring")
	fl.BoolVar(&f.keepGoing, "keep-going", false, "record per-file errors and continue")
	fl.StringVar(&f.password, "password", "", "password for encrypted files")
	fl.StringVar(&f.policy, "policy", "", "JavaScript annotation policy defining decide(annot)")
	fl.StringVar(&f.color, "color", "", "stroke colour for converted rectangles, #rrggbb")
	fl.StringVar(&f.logLevel, "log-level", d.LogLevel, "debug|info|warn|error")

	cmd.AddCommand(newStrategiesCmd(stdout))
	return cmd
}

func newStrategiesCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, k := range strategy.All() {
				if _, err := fmt.Fprintf(stdout, "%-12s %s\n", k, k.Description()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func kindNames() []string {
	var out []string
	for _, k := range strategy.All() {
		out = append(out, k.String())
	}
	return out
}

// settings merges config file and environment values with the flags the
// user set explicitly.
func settings(cmd *cobra.Command, f flags) (config.Settings, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Settings{}, err
	}
	s, _, err := config.Load(f.config, wd)
	if err != nil {
		return s, err
	}
	fl := cmd.Flags()
	var fc config.FileConfig
	if fl.Changed("strategy") {
		fc.Strategies = f.strategies
	}
	if fl.Changed("out") {
		fc.Out = &f.out
	}
	if fl.Changed("summary") {
		fc.Summary = &f.summary
	}
	if fl.Changed("report") {
		fc.Report = &f.report
	}
	if fl.Changed("include") {
		fc.Include = f.include
	}
	if fl.Changed("exclude") {
		fc.Exclude = f.exclude
	}
	if fl.Changed("dpi") {
		fc.DPI = &f.dpi
	}
	if fl.Changed("keep-going") {
		fc.KeepGoing = &f.keepGoing
	}
	if fl.Changed("password") {
		fc.Password = &f.password
	}
	if fl.Changed("policy") {
		fc.AnnotationPolicy = &f.policy
	}
	if fl.Changed("color") {
		fc.StrokeColor = &f.color
	}
	if fl.Changed("log-level") {
		fc.LogLevel = &f.logLevel
	}
	s.Apply(fc)
	return s, s.Validate()
}

// run processes every file under path. Configuration is checked before the
// first file is touched. Without KeepGoing the first failing file aborts
// the batch; rows written so far stay in the summary.
func run(ctx context.Context, path string, s config.Settings, stdout, stderr io.Writer) error {
	set, err := strategy.Parse(s.Strategies...)
	if err != nil {
		return err
	}
	level, err := observability.ParseLevel(s.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	runID := uuid.NewString()
	logger := observability.NewStdLogger(stderr, level).With(observability.String("run", runID))

	minAverage := s.MinAverage
	opts := ruin.Options{
		Render:     render.Config{DPI: s.DPI},
		MinAverage: &minAverage,
		Password:   s.Password,
		Logger:     logger,
	}
	if s.StrokeColor != "" {
		c, err := transform.ParseColor(s.StrokeColor)
		if err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		opts.StrokeColor = &c
	}
	if s.AnnotationPolicy != "" {
		p, err := scripting.LoadPolicy(ctx, s.AnnotationPolicy)
		if err != nil {
			return fmt.Errorf("%w: policy: %v", config.ErrInvalid, err)
		}
		opts.Policy = p
	}

	files, err := discover.Files(path, s.Include, s.Exclude)
	if err != nil {
		return err
	}
	outputs := make([]string, len(files))
	for i, in := range files {
		outputs[i] = filepath.Join(s.Out, filepath.Base(in))
		if same(in, outputs[i]) {
			return fmt.Errorf("%w: %s: output would overwrite the input", config.ErrInvalid, in)
		}
	}
	if err := os.MkdirAll(s.Out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	summary, err := report.CreateCSV(s.Summary, s.KeepGoing)
	if err != nil {
		return err
	}
	defer summary.Close()
	if err := summary.WriteHeader(); err != nil {
		return err
	}

	logger.Info("run started",
		observability.Int("files", len(files)),
		observability.String("strategies", set.String()),
		observability.String("out", s.Out),
	)
	started := time.Now()
	r := ruin.New(opts)
	var entries []report.Entry
	for i, in := range files {
		fmt.Fprintf(stderr, "Processing file %d/%d\n", i+1, len(files))
		res, err := r.RuinFile(ctx, in, outputs[i], set)
		entry := report.Entry{Result: res, Err: err}
		if err != nil {
			if !s.KeepGoing || ctx.Err() != nil {
				return err
			}
			logger.Error("file failed", observability.String("file", in), observability.Error("error", err))
		}
		entries = append(entries, entry)
		if err := summary.Write(entry); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := report.PrintTable(stdout, entries); err != nil {
		return err
	}
	if s.Report != "" {
		info := report.Run{ID: runID, Started: started, Strategies: set.String()}
		if err := report.WriteHTMLFile(s.Report, info, entries); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	logger.Info("run finished", observability.Duration("elapsed", time.Since(started)))
	return nil
}

func same(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
