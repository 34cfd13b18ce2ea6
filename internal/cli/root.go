// Package cli implements the voyager command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"voyager/internal/config"
	"voyager/internal/logging"
)

// Version is set at build time.
var Version = "dev"

type globalOptions struct {
	workDir    string
	configPath string
	logLevel   string
	noColor    bool
}

// App carries the state shared by every command of one invocation.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	opts    globalOptions
	entered bool
	workDir string
	cfg     config.Config
	logger  *logging.Logger
}

// Run executes the command line (without argv[0]) and returns the exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := &App{Stdout: stdout, Stderr: stderr}
	root := app.NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	code := ExitCode(err)
	if err != nil && !app.entered {
		// Flag, argument and unknown-command errors happen before any command runs.
		code = ExitInvalidInvocation
	}
	if err != nil {
		pterm.Error.WithWriter(stderr).Println(err.Error())
	}
	app.close()
	return code
}

func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "voyager",
		Short:         "Incremental crate resolution and contract extraction for Cairo workspaces",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.entered = true
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.workDir, "workdir", "", "workspace root (defaults to the current directory)")
	pf.StringVar(&a.opts.configPath, "config", "", "configuration file (defaults to <workdir>/"+config.FileName+")")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.newResolveCommand(),
		a.newGraphCommand(),
		a.newWatchCommand(),
		a.newRunsCommand(),
		a.newVerifyCommand(),
		a.newVersionsCommand(),
	)
	return root
}

func (a *App) setup() error {
	if a.opts.noColor {
		pterm.DisableColor()
	} else {
		pterm.EnableColor()
	}

	wd := a.opts.workDir
	if wd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		wd = cwd
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return invalidInvocationf("--workdir: %v", err)
	}
	a.workDir = abs

	cfgPath := ""
	if a.opts.configPath != "" {
		if cfgPath, err = resolveUnderWorkDir(abs, a.opts.configPath); err != nil {
			return err
		}
	}
	cfg, err := config.LoadWorkspace(abs, cfgPath)
	if err != nil {
		return &InvocationError{ExitCode: ExitConfigError, Err: err}
	}
	if a.opts.logLevel != "" {
		cfg.Log.Level = a.opts.logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return invalidInvocationf("--log-level: %v", err)
	}
	a.cfg = cfg

	logDir := ""
	if cfg.Log.Dir != "" {
		logDir, _ = resolveUnderWorkDir(abs, cfg.Log.Dir)
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		Dir:     logDir,
		Service: "voyager",
		JSON:    cfg.Log.JSON,
		Writer:  a.Stderr,
	})
	return nil
}

func (a *App) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.logger.Slog()
}

func (a *App) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// noArgs rejects positional arguments with an invocation error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return invalidInvocationf("unexpected positional arguments: %q", strings.Join(args, " "))
	}
	return nil
}
