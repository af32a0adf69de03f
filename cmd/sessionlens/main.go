package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/sessionlens/internal/appupdate"
	"github.com/janekbaraniewski/sessionlens/internal/config"
	"github.com/janekbaraniewski/sessionlens/internal/core"
	"github.com/janekbaraniewski/sessionlens/internal/daemon"
	"github.com/janekbaraniewski/sessionlens/internal/logsource"
	"github.com/janekbaraniewski/sessionlens/internal/telemetry"
	"github.com/janekbaraniewski/sessionlens/internal/tui"
	"github.com/janekbaraniewski/sessionlens/internal/version"
)

func main() {
	if os.Getenv("SESSIONLENS_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:   "sessionlens",
		Short: "sessionlens reconstructs coding-agent sessions from local transcript logs.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return tui.Run(cfg, daemon.Sources(cfg))
		},
	}

	root.AddCommand(newServeCommand(cfg))
	root.AddCommand(newSessionsCommand(cfg))
	root.AddCommand(newUsageCommand(cfg))
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand(cfg config.Config) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API daemon.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return daemon.RunServer(cfg, daemon.Options{Verbose: verbose})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log daemon events to stderr")
	return cmd
}

func newSessionsCommand(cfg config.Config) *cobra.Command {
	var workspace string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List discovered sessions.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			all, _, err := logsource.DiscoverAll(ctx, daemon.Sources(cfg), workspace)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(all)
			}
			for _, s := range all {
				fmt.Printf("%-8s %-36s %-19s %s\n", s.Tool, s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.WorkingDirectory)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "project", "", "only sessions under this workspace directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func newUsageCommand(cfg config.Config) *cobra.Command {
	var days int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Aggregate token usage across all transcripts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			agg := &telemetry.Aggregator{
				Sources:  daemon.Sources(cfg),
				Location: cfg.Location(),
			}
			series, stats, err := agg.DailyUsage(ctx, days)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{"days": series, "stats": stats})
			}
			var total core.TokenUsage
			for _, day := range series {
				total.Add(day.Usage)
				if day.Usage.IsZero() {
					continue
				}
				fmt.Printf("%s  in=%-10d cached=%-10d out=%-10d total=%d\n",
					day.Day, day.Usage.InputTokens, day.Usage.CachedInputTokens,
					day.Usage.OutputTokens, day.Usage.TotalTokens())
			}
			fmt.Printf("\n%d days: %d tokens (%d files scanned, %d lines skipped)\n",
				days, total.TotalTokens(), stats.Files, stats.SkippedLines)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "number of days to cover")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and check for updates.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.Version)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			result, err := appupdate.Check(ctx, appupdate.CheckOptions{CurrentVersion: version.Version})
			if err != nil || !result.UpdateAvailable {
				return
			}
			fmt.Printf("update available: %s (%s)\n", result.LatestVersion, result.UpgradeHint)
		},
	}
}
