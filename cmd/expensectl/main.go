package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"expensedash/internal/cli"
	applog "expensedash/internal/log"
)

var version = "dev"

// env is what every subcommand runs against. The App is opened lazily by
// the root command's PersistentPreRunE.
type env struct {
	stdin   io.Reader
	stdout  io.Writer
	envFile string
	now     func() time.Time
	open    func(ctx context.Context, envFile string) (*cli.App, error)

	app   *cli.App
	lines *bufio.Reader
}

func newEnv() *env {
	return &env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		now:    time.Now,
		open:   openApp,
	}
}

func openApp(ctx context.Context, envFile string) (*cli.App, error) {
	if envFile != "" {
		cli.LoadEnvFile(envFile)
	} else {
		cli.LoadEnvFile()
	}
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.SetupLogger(cfg, applog.ComponentCLI)
	return cli.NewApp(ctx, cfg, logger)
}

func (e *env) close() {
	if e.app == nil {
		return
	}
	if err := e.app.Close(); err != nil {
		e.app.Logger.Error("Failed to release resources", applog.FieldError, err)
	}
	e.app = nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "expensectl",
		Short: "Track expenses against the expense service",
		Long: `expensectl drives the same session, cache and analytics layers as the
expensedash web dashboard: log in once, then list, add, edit and remove
expenses, print summaries or export them to a Google Sheet.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if e.app != nil {
				return nil
			}
			app, err := e.open(cmd.Context(), e.envFile)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			e.app = app
			return nil
		},
	}
	root.SetOut(e.stdout)
	root.PersistentFlags().StringVar(&e.envFile, "env-file", "", "dotenv file to load (default: .env)")

	root.AddCommand(registerCmd(e))
	root.AddCommand(loginCmd(e))
	root.AddCommand(logoutCmd(e))
	root.AddCommand(whoamiCmd(e))
	root.AddCommand(listCmd(e))
	root.AddCommand(addCmd(e))
	root.AddCommand(editCmd(e))
	root.AddCommand(rmCmd(e))
	root.AddCommand(summaryCmd(e))
	root.AddCommand(exportCmd(e))
	root.AddCommand(watchCmd(e))
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	e := newEnv()
	err := newRootCmd(e).ExecuteContext(ctx)
	e.close()
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
