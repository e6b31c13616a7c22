// Command snapcrawl crawls a site with a headless browser and saves every
// visited page as a PDF.
//
// Usage:
//
//	snapcrawl crawl -c config.yaml
//	snapcrawl crawl https://example.com --max-depth 2
//	snapcrawl history stats
//
// See --help for all available options.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapcrawl",
		Short: "SnapCrawl - save websites as PDFs",
		Long: `SnapCrawl crawls a website breadth-first with headless Chrome and saves every
page it visits as a PDF. It respects robots.txt, throttles requests per domain,
can click through "load more" buttons and pagination, and remembers visited
pages across runs so nothing is fetched twice.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", getVersion(), getCommit(), getDate()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
