// Package cli defines the covrun command grammar and maps command
// results to process exit codes.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/covstack/covrun/internal/config"
)

const (
	// ExitThreshold is returned when total coverage falls below the
	// configured gate.
	ExitThreshold = 200
	// ExitInternal is returned for covrun's own failures: bad config,
	// missing runner binary, unparsable profile, storage errors.
	ExitInternal = 201
)

// exitError carries a specific process exit code out of a command.
// Codes 1-127 propagate the test command's own status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func internalErr(err error) error {
	return &exitError{code: ExitInternal, err: err}
}

// App carries shared dependencies into command Run methods.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

type Globals struct {
	Config  string `kong:"help:'Path to the covrun config file.',placeholder:'FILE'"`
	Verbose bool   `kong:"short:'v',help:'Enable debug logging.'"`
}

type CLI struct {
	Globals

	Run     RunCmd     `kong:"cmd,help:'Run the test suite under coverage and generate a report.'"`
	Report  ReportCmd  `kong:"cmd,help:'Regenerate the summary and HTML report from an existing profile.'"`
	Merge   MergeCmd   `kong:"cmd,help:'Merge coverage profiles into one.'"`
	History HistoryCmd `kong:"cmd,help:'List recorded coverage runs.'"`
	Watch   WatchCmd   `kong:"cmd,help:'Re-run the coverage pipeline when source files change.'"`
	Clean   CleanCmd   `kong:"cmd,help:'Remove generated coverage artifacts.'"`
}

// helpRequested reports whether a help flag appears before the first
// "--". Anything after the separator belongs to the test command and
// must never be interpreted as covrun's own help.
func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// Run parses args, loads configuration and dispatches the selected
// command. The returned value is the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("covrun"),
		kong.Description("Run a test suite under coverage instrumentation and generate reports"),
		kong.UsageOnError(),
		kong.Exit(func(int) {}), // Prevent os.Exit during testing
		kong.Writers(stdout, stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "covrun: %v\n", err)
		return ExitInternal
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		// Kong prints help itself; distinguish a help request from a
		// genuine parse error.
		if helpRequested(args) {
			return 0
		}
		fmt.Fprintf(stderr, "covrun: %v\n", err)
		return ExitInternal
	}

	// kong's help hook prints and then returns control because the
	// exit function above is a no-op; never dispatch after help.
	if helpRequested(args) {
		return 0
	}

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(cli.Globals.Config)
	if err != nil {
		fmt.Fprintf(stderr, "covrun: %v\n", err)
		return ExitInternal
	}

	app := &App{Config: cfg, Logger: logger, Stdout: stdout, Stderr: stderr}
	if err := kctx.Run(app); err != nil {
		var xe *exitError
		if errors.As(err, &xe) {
			if xe.err != nil {
				fmt.Fprintf(stderr, "covrun: %v\n", xe.err)
			}
			return xe.code
		}
		fmt.Fprintf(stderr, "covrun: %v\n", err)
		return ExitInternal
	}
	return 0
}
