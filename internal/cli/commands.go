package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/covstack/covrun/internal/coverage"
	"github.com/covstack/covrun/internal/history"
	"github.com/covstack/covrun/internal/report"
)

type ReportCmd struct {
	Profile string `kong:"help:'Coverage profile to read.',placeholder:'FILE'"`
	HTML    string `kong:"name:'html',help:'HTML report output path.',placeholder:'FILE'"`
}

func (c *ReportCmd) Run(app *App) error {
	cfg := app.Config
	if c.Profile != "" {
		cfg.Coverage.Profile = c.Profile
	}
	if c.HTML != "" {
		cfg.Coverage.HTML = c.HTML
	}
	if err := cfg.Validate(); err != nil {
		return internalErr(err)
	}

	summary, profiles, err := coverage.Load(cfg.Coverage.Profile)
	if err != nil {
		return internalErr(err)
	}

	report.WriteSummary(app.Stdout, summary, cfg.Coverage.Threshold)

	if err := writeHTMLReport(app, cfg.Coverage.HTML, ".", summary, profiles); err != nil {
		return internalErr(err)
	}
	app.Logger.Info("wrote HTML report", "path", cfg.Coverage.HTML)
	return nil
}

type MergeCmd struct {
	Out      string   `kong:"required,help:'Merged profile output path.',placeholder:'FILE'"`
	Profiles []string `kong:"arg,required,name:'profiles',help:'Coverage profiles to merge.'"`
}

func (c *MergeCmd) Run(app *App) error {
	merged, err := coverage.Merge(c.Profiles)
	if err != nil {
		return internalErr(err)
	}

	f, err := os.Create(c.Out)
	if err != nil {
		return internalErr(fmt.Errorf("failed to create %s: %w", c.Out, err))
	}
	if err := coverage.WriteProfiles(f, merged); err != nil {
		f.Close()
		return internalErr(fmt.Errorf("failed to write merged profile: %w", err))
	}
	if err := f.Close(); err != nil {
		return internalErr(err)
	}

	fmt.Fprintf(app.Stdout, "merged %d profiles into %s\n", len(c.Profiles), c.Out)
	return nil
}

type HistoryCmd struct {
	Limit int `kong:"help:'Max runs to list (0 uses the configured limit).'"`
}

func (c *HistoryCmd) Run(app *App) error {
	cfg := app.Config
	limit := c.Limit
	if limit <= 0 {
		limit = cfg.History.Limit
	}

	store, err := history.Open(cfg.History.Path, cfg.History.Limit)
	if err != nil {
		return internalErr(err)
	}
	defer store.Close()

	records, err := store.List(context.Background(), limit)
	if err != nil {
		return internalErr(err)
	}

	if len(records) == 0 {
		fmt.Fprintln(app.Stdout, "no recorded runs")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(app.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"When", "Cover", "Delta", "Files", "Stmts", "Duration"})
	for i, rec := range records {
		delta := "-"
		if i+1 < len(records) {
			delta = fmt.Sprintf("%+.1f%%", rec.Percent-records[i+1].Percent)
		}
		t.AppendRow(table.Row{
			rec.Time.Local().Format(time.RFC3339),
			fmt.Sprintf("%.1f%%", rec.Percent),
			delta,
			rec.Files,
			rec.Statements,
			(time.Duration(rec.DurationMS) * time.Millisecond).String(),
		})
	}
	t.Render()
	return nil
}

type CleanCmd struct{}

func (c *CleanCmd) Run(app *App) error {
	cfg := app.Config
	targets := []string{cfg.Coverage.Profile, cfg.Coverage.HTML}
	for _, target := range targets {
		if err := os.Remove(target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return internalErr(fmt.Errorf("failed to remove %s: %w", target, err))
		}
		fmt.Fprintf(app.Stdout, "removed %s\n", target)
	}

	if cfg.History.Path != "" {
		if err := os.Remove(cfg.History.Path); err != nil && !os.IsNotExist(err) {
			return internalErr(fmt.Errorf("failed to remove %s: %w", cfg.History.Path, err))
		} else if err == nil {
			fmt.Fprintf(app.Stdout, "removed %s\n", cfg.History.Path)
		}
		// Drop the holding directory if covrun created it and it is
		// now empty.
		if dir := filepath.Dir(cfg.History.Path); filepath.Base(dir) == ".covrun" {
			_ = os.Remove(dir)
		}
	}
	return nil
}
