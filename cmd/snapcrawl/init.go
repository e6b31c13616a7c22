package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/amosWeiskopf/snapcrawl/internal/config"
)

const defaultConfigFile = "snapcrawl.yaml"

const configHeader = `# SnapCrawl configuration.
# Durations (timeout, render_timeout, interaction_timeout, robots_timeout) are
# milliseconds and delay is seconds. Every key can also be set through an
# environment variable such as SNAPCRAWL_MAX_DEPTH or a flag such as --max-depth.
# history_path ending in .db, .sqlite or .sqlite3 uses a SQLite history.

`

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default spelled out",
		Example: `  snapcrawl init
  snapcrawl init -o jobs/docs.yaml --start-url https://example.com/docs`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	cmd.Flags().StringP("output", "o", defaultConfigFile, "Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")
	cmd.Flags().String("start-url", "https://example.com/", "Seed URL written into the template")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	outputPath, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")
	startURL, _ := cmd.Flags().GetString("start-url")

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	cfg := config.Default()
	cfg.StartURL = startURL
	content, err := renderConfig(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created configuration file: %s\n", outputPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Run it with: snapcrawl crawl -c %s\n", outputPath)
	return nil
}

func renderConfig(cfg config.Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return buf.Bytes(), nil
}
