package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"budgetbuddy/internal/api"
	"budgetbuddy/internal/cli/output"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/guard"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitUsageError  = 2
	ExitAuthError   = 3
	ExitConfigError = 4
)

// routeAnnotation names the route a command stands for. The guard decides on
// it exactly as it does for the web UI.
const routeAnnotation = "route"

var (
	// ErrNotLoggedIn is returned by protected commands without a session.
	ErrNotLoggedIn = errors.New("not logged in, run `budgetbuddy login` first")
	errConfig      = errors.New("configuration")
)

// Streams are the standard streams of a command run.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

type runner struct {
	streams Streams
	version string

	envFile string
	color   string
	quiet   bool
	verbose bool

	app     *App
	printer *output.Printer
	stdin   *bufio.Reader
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, streams Streams, version string) int {
	r := &runner{streams: streams, version: version}
	root := r.rootCommand()
	root.SetArgs(args)
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	err := root.ExecuteContext(ctx)
	if r.app != nil {
		if cerr := r.app.Close(); cerr != nil {
			r.app.Logger.Warn("Shutdown cleanup failed", log.FieldError, cerr)
		}
	}
	if err == nil {
		return ExitSuccess
	}
	return r.report(err)
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "budgetbuddy",
		Short: "Track income and expenses against the BudgetBuddy API",
		Long: `budgetbuddy is a client for the BudgetBuddy budgeting service.

It keeps you signed in between runs, serves the web UI and manages
categories and transactions from the terminal.

Example usage:
  budgetbuddy login --email ben@gmail.com
  budgetbuddy categories add --name Rent --type expense
  budgetbuddy transactions list --type expense --start 2025-01-01
  budgetbuddy serve`,
		Version:           r.version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&r.envFile, "env-file", ".env", "environment file to load before reading the configuration")
	flags.StringVar(&r.color, "color", "auto", "color output: auto, always or never")
	flags.BoolVarP(&r.quiet, "quiet", "q", false, "only print results and errors")
	flags.BoolVarP(&r.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		r.serveCommand(),
		r.loginCommand(),
		r.registerCommand(),
		r.logoutCommand(),
		r.statusCommand(),
		r.profileCommand(),
		r.passwordCommand(),
		r.categoriesCommand(),
		r.transactionsCommand(),
		r.dashboardCommand(),
		r.exportCommand(),
	)
	return root
}

// setup loads configuration, wires the application and applies the route
// guard to protected commands.
func (r *runner) setup(cmd *cobra.Command, _ []string) error {
	mode, err := output.ParseColorMode(r.color)
	if err != nil {
		return usageError{err}
	}
	r.printer = output.NewPrinter(r.streams.Out, r.streams.Err, output.ResolveColors(mode), r.quiet)
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	LoadEnvFile(r.envFile)
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	level := cfg.LogLevel
	// one-shot commands stay quiet unless asked
	if cmd.Name() != "serve" && log.ParseLevel(level) < slog.LevelWarn {
		level = "warn"
	}
	logger := SetupLogger(r.streams.Err, level, r.verbose)

	app, err := Bootstrap(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	r.app = app

	if route, ok := cmd.Annotations[routeAnnotation]; ok {
		d := app.Guard.Authorize(route)
		logger.Debug("Route decision", log.FieldRoute, route, log.FieldDecision, d.Action.String())
		if d.Action != guard.Render {
			return ErrNotLoggedIn
		}
	}
	return nil
}

// protected marks cmd as standing for route.
func protected(cmd *cobra.Command, route string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[routeAnnotation] = route
	return cmd
}

type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

// report prints err the way the web UI would show it and maps it to an
// exit code.
func (r *runner) report(err error) int {
	p := r.printer
	if p == nil {
		p = output.NewPrinter(r.streams.Out, r.streams.Err, false, false)
	}

	var verr core.ValidationErrors
	var uerr usageError
	switch {
	case errors.As(err, &verr):
		p.FieldErrors(verr)
		return ExitUsageError
	case errors.As(err, &uerr):
		p.Error("%v", uerr.error)
		return ExitUsageError
	case errors.Is(err, errConfig):
		p.Error("%v", err)
		return ExitConfigError
	case errors.Is(err, services.ErrSessionExpired):
		p.Error("Your session has expired, please log in again.")
		return ExitAuthError
	case errors.Is(err, ErrNotLoggedIn):
		p.Error("%v", err)
		return ExitAuthError
	case errors.Is(err, api.ErrUnauthorized):
		p.Error("%s", api.Message(err))
		return ExitAuthError
	default:
		var apiErr *api.APIError
		if errors.As(err, &apiErr) || errors.Is(err, api.ErrNotFound) {
			p.Error("%s", api.Message(err))
		} else {
			p.Error("%v", err)
		}
		return ExitGeneral
	}
}

// prompt reads one line from standard input after printing label.
func (r *runner) prompt(label string) (string, error) {
	if r.stdin == nil {
		r.stdin = bufio.NewReader(r.streams.In)
	}
	fmt.Fprint(r.streams.Err, label+": ")
	line, err := r.stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
