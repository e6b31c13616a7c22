package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/amosWeiskopf/snapcrawl/internal/config"
	"github.com/amosWeiskopf/snapcrawl/pkg/history"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or edit the visited-page history",
		Long: `History shows what previous crawls recorded. Every processed URL, saved or
failed, is recorded and skipped on later runs; forget a URL to retry it.`,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Configuration file that names the history")
	cmd.PersistentFlags().String("history-path", "", "History file (overrides the configuration)")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarize the history",
		Args:  cobra.NoArgs,
		RunE:  runHistoryStats,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "contains URL...",
		Short: "Report whether URLs were already processed",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHistoryContains,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "forget URL...",
		Short: "Remove URLs so the next crawl visits them again",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHistoryForget,
	})
	return cmd
}

func openHistory(cmd *cobra.Command) (history.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", cfg.HistoryPath, err)
	}
	return store, nil
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Entries(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entries: %d\n", len(entries))
	if len(entries) == 0 {
		return nil
	}

	byStatus := make(map[string]int)
	for _, e := range entries {
		status := e.Status
		if status == "" {
			status = "unknown"
		}
		byStatus[status]++
	}
	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-18s %d\n", s, byStatus[s])
	}

	fmt.Fprintf(out, "Oldest: %s\n", formatTime(entries[0].SavedAt))
	fmt.Fprintf(out, "Newest: %s\n", formatTime(entries[len(entries)-1].SavedAt))
	return nil
}

func runHistoryContains(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	for _, raw := range args {
		normalized, err := utils.NormalizeURL(raw, "")
		if err != nil {
			return fmt.Errorf("%s: %w", raw, err)
		}
		e, ok, err := store.Get(cmd.Context(), utils.HashURL(normalized))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s\tnot visited\n", normalized)
			continue
		}
		line := fmt.Sprintf("%s\t%s\t%s", normalized, e.Status, formatTime(e.SavedAt))
		if e.Filename != "" {
			line += "\t" + e.Filename
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runHistoryForget(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	removed := 0
	for _, raw := range args {
		normalized, err := utils.NormalizeURL(raw, "")
		if err != nil {
			return fmt.Errorf("%s: %w", raw, err)
		}
		ok, err := store.Remove(cmd.Context(), utils.HashURL(normalized))
		if err != nil {
			return err
		}
		if ok {
			removed++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d URL(s)\n", removed, len(args))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
