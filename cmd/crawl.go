package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/data-spider/internal/app"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [site-definition...]",
		Short: "Crawls the given site definitions",
		Long: `Runs every site definition once, each as an independent crawl. Without
arguments the definitions listed under "sites" in the config are used. When
server.addr is set, metrics and the run API are served for the duration of
the crawl.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().String("mode", "", "how existing output is treated: continue, skip or force")
	cmd.Flags().Bool("dry-run", false, "log the first request of each site without fetching or writing")
	cmd.Flags().String("addr", "", "serve metrics and the run API on this address while crawling")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	ctx := cmd.Context()

	var serveErr <-chan error
	if addr := appInstance.Config().Server.Addr; addr != "" {
		handler, err := appInstance.Handler()
		if err != nil {
			return err
		}
		serveCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		serveErr = startServer(serveCtx, addr, handler, logger)
		defer func() {
			stopServer()
			if err := <-serveErr; err != nil {
				logger.Warn("metrics server stopped with error", zap.Error(err))
			}
		}()
	}

	summary, err := appInstance.Crawl(ctx, args)
	if errors.Is(err, app.ErrNoSites) {
		return fmt.Errorf("%w: pass definition files or set sites in the config", err)
	}
	printSummary(cmd.OutOrStdout(), summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, summary app.Summary) {
	if summary.RunID == "" {
		return
	}
	fmt.Fprintf(w, "run %s\n", summary.RunID)
	for _, res := range summary.Sites {
		switch {
		case res.Skipped:
			fmt.Fprintf(w, "  %-24s skipped\n", res.Name)
		case res.Err != nil:
			fmt.Fprintf(w, "  %-24s failed after %d steps: %v\n", res.Name, res.Stats.Steps, res.Err)
		default:
			fmt.Fprintf(w, "  %-24s %s after %d steps (%d retries, %d bytes)\n",
				res.Name, res.Stats.Reason, res.Stats.Steps, res.Stats.Retries, res.Stats.Bytes)
		}
	}
}
