// Package cmd defines and implements the CLI commands for the spider executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/app"
	"github.com/JakeFAU/data-spider/internal/config"
	"github.com/JakeFAU/data-spider/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// flagKeys maps CLI flags onto config keys so flags override files and env.
var flagKeys = map[string]string{
	"verbosity": "logging.verbosity",
	"mode":      "output.mode",
	"dry-run":   "output.dry_run",
	"base-path": "output.base_path",
	"addr":      "server.addr",
}

// newApp is the application factory. It is a variable so tests can inject
// services.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, app.Options{Config: cfg, Logger: logger})
}

// cliState outlives command execution so the app is closed even when a
// command fails.
type cliState struct {
	app *app.App
}

func (s *cliState) close() error {
	if s.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.app.Close(ctx)
	s.app = nil
	return err
}

func newRootCmd(state *cliState) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "spider",
		Short: "Incrementally crawls paginated data sources into sharded storage.",
		Long: `spider walks the sites described by declarative definition files,
fetching one page or record batch at a time, and writes every result into a
sharded directory tree on local disk or Google Cloud Storage. Interrupted runs
resume from what is already stored.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile, cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Verbosity,
				Development: cfg.Logging.Development,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/spider and $HOME/.spider)")
	cmd.PersistentFlags().String("verbosity", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("base-path", "", "root directory for local output")

	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd
}

func loadConfig(path string, cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(path)
	if err != nil {
		return config.Config{}, err
	}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return config.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return config.FromViper(v)
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args and releases application services afterwards.
func run(ctx context.Context, args []string, out io.Writer) error {
	state := &cliState{}
	root := newRootCmd(state)
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, state.close())
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
