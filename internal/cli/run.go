package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/tools/cover"

	"github.com/covstack/covrun/internal/config"
	"github.com/covstack/covrun/internal/coverage"
	"github.com/covstack/covrun/internal/history"
	"github.com/covstack/covrun/internal/report"
	"github.com/covstack/covrun/internal/runner"
	"github.com/covstack/covrun/internal/watch"
)

type RunCmd struct {
	Profile   string   `kong:"help:'Coverage profile output path.',placeholder:'FILE'"`
	HTML      string   `kong:"name:'html',help:'HTML report output path.',placeholder:'FILE'"`
	Mode      string   `kong:"help:'Coverage mode: set, count or atomic.'"`
	Threshold float64  `kong:"help:'Fail with exit code 200 if total coverage is below this percentage.'"`
	Timeout   int      `kong:"help:'Max seconds for the test run (0 disables the deadline).'"`
	Dir       string   `kong:"help:'Working directory for the test run.',placeholder:'DIR'"`
	NoHistory bool     `kong:"help:'Do not record this run in the history store.'"`
	Args      []string `kong:"arg,optional,name:'args',help:'Arguments forwarded to the test command.'"`
}

// applyTo copies explicitly set flags over the loaded configuration.
// Zero values mean "not set" and leave the config layer untouched.
func (c *RunCmd) applyTo(cfg *config.Config) {
	if c.Profile != "" {
		cfg.Coverage.Profile = c.Profile
	}
	if c.HTML != "" {
		cfg.Coverage.HTML = c.HTML
	}
	if c.Mode != "" {
		cfg.Coverage.Mode = c.Mode
	}
	if c.Threshold != 0 {
		cfg.Coverage.Threshold = c.Threshold
	}
	if c.Timeout != 0 {
		cfg.Runner.Timeout = c.Timeout
	}
	if c.Dir != "" {
		cfg.Runner.Dir = c.Dir
	}
	if c.NoHistory {
		cfg.History.Enabled = false
	}
}

func (c *RunCmd) Run(app *App) error {
	c.applyTo(app.Config)
	if err := app.Config.Validate(); err != nil {
		return internalErr(err)
	}
	return runPipeline(context.Background(), app, c.Args)
}

// runPipeline is the core contract: run the tests under coverage,
// propagate their exit code on failure, and only on success summarize,
// gate, render the HTML report and record history.
func runPipeline(ctx context.Context, app *App, extraArgs []string) error {
	cfg := app.Config

	bin, err := cfg.ResolveRunner()
	if err != nil {
		return internalErr(err)
	}

	argv := runner.TestArgs(bin, cfg.Runner.Args, cfg.Coverage.Mode, cfg.Coverage.Profile, extraArgs)
	app.Logger.Debug("running tests", "argv", argv, "dir", cfg.Runner.Dir)

	start := time.Now()
	exitCode, err := runner.New().Execute(ctx, argv, cfg.Runner.Dir, time.Duration(cfg.Runner.Timeout)*time.Second)
	duration := time.Since(start)

	if exitCode != 0 || err != nil {
		// Fail fast: the child's exit code is the contract, no report.
		// Codes above 127 would collide with covrun's reserved range.
		if exitCode > 0 && exitCode <= 127 {
			return &exitError{code: exitCode, err: fmt.Errorf("tests failed (exit %d)", exitCode)}
		}
		if err == nil {
			err = fmt.Errorf("exit %d", exitCode)
		}
		return internalErr(fmt.Errorf("test run failed: %w", err))
	}

	profilePath := resolveInDir(cfg.Runner.Dir, cfg.Coverage.Profile)
	summary, profiles, err := coverage.Load(profilePath)
	if err != nil {
		return internalErr(err)
	}

	report.WriteSummary(app.Stdout, summary, cfg.Coverage.Threshold)

	if cfg.Coverage.Threshold > 0 && summary.Percent() < cfg.Coverage.Threshold {
		return &exitError{code: ExitThreshold}
	}

	// All run artifacts share the runner's working directory as their
	// base, so --dir moves the profile, report and history together.
	baseDir := cfg.Runner.Dir
	if baseDir == "" {
		baseDir = "."
	}
	htmlPath := resolveInDir(cfg.Runner.Dir, cfg.Coverage.HTML)
	if err := writeHTMLReport(app, htmlPath, baseDir, summary, profiles); err != nil {
		return internalErr(err)
	}
	app.Logger.Info("wrote HTML report", "path", htmlPath)

	if cfg.History.Enabled {
		hc := cfg.History
		hc.Path = resolveInDir(cfg.Runner.Dir, hc.Path)
		if err := recordRun(ctx, hc, summary, duration, extraArgs); err != nil {
			return internalErr(err)
		}
	}

	return nil
}

func writeHTMLReport(app *App, htmlPath, baseDir string, summary *coverage.Summary, profiles []*cover.Profile) error {
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to create HTML report: %w", err)
	}
	if err := report.WriteHTML(f, baseDir, summary, profiles, app.Logger); err != nil {
		f.Close()
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return f.Close()
}

func recordRun(ctx context.Context, cfg config.HistoryConfig, summary *coverage.Summary, duration time.Duration, args []string) error {
	store, err := history.Open(cfg.Path, cfg.Limit)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Add(ctx, history.Record{
		Time:       time.Now(),
		Percent:    summary.Percent(),
		Files:      len(summary.Files),
		Statements: summary.Statements,
		Covered:    summary.Covered,
		DurationMS: duration.Milliseconds(),
		Args:       args,
	})
}

// resolveInDir resolves path relative to dir unless it is already
// absolute. Artifacts written by a test run in runner.dir land there.
func resolveInDir(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

type WatchCmd struct {
	RunCmd
}

func (c *WatchCmd) Run(app *App) error {
	c.applyTo(app.Config)
	if err := app.Config.Validate(); err != nil {
		return internalErr(err)
	}
	cfg := app.Config

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := watch.Options{
		Paths:      cfg.Watch.Paths,
		Extensions: cfg.Watch.Extensions,
		Debounce:   time.Duration(cfg.Watch.Debounce) * time.Millisecond,
		Ignore: []string{
			resolveInDir(cfg.Runner.Dir, cfg.Coverage.Profile),
			resolveInDir(cfg.Runner.Dir, cfg.Coverage.HTML),
			resolveInDir(cfg.Runner.Dir, cfg.History.Path),
		},
	}

	// Failed runs keep the watch loop alive; watch.Run logs them.
	err := watch.Run(ctx, opts, app.Logger, func() error {
		return runPipeline(ctx, app, c.Args)
	})
	if err != nil {
		return internalErr(err)
	}
	return nil
}
