package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mnemokit/mnemo/pkg/bus"
	"github.com/mnemokit/mnemo/pkg/config"
	"github.com/mnemokit/mnemo/pkg/memory"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "mnemo",
		Short: "Tiered memory store with importance-based promotion and similarity recall",
		Long: strings.TrimSpace(`mnemo persists memories into four retention tiers and moves them
between tiers based on a deterministic importance score.

Use the subcommands to store records, recall them by similarity,
inspect per-tier statistics, run a retention sweep, or open an
interactive console.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to JSON config file")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newStoreCommand(&configPath))
	root.AddCommand(newRecallCommand(&configPath))
	root.AddCommand(newStatsCommand(&configPath))
	root.AddCommand(newSweepCommand(&configPath))
	root.AddCommand(newConsoleCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mnemo.json"
	}
	return home + "/.mnemo/config.json"
}

// openService loads config and opens the store for one CLI invocation.
func openService(configPath string, events *bus.EventBus) (*memory.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	mcfg := cfg.MemoryConfig()
	mcfg.Logger = logger
	mcfg.Events = events
	return memory.Open(mcfg)
}

func newStoreCommand(configPath *string) *cobra.Command {
	var (
		tag     string
		tags    []string
		tier    string
		session string
	)

	cmd := &cobra.Command{
		Use:     "store [content]",
		Short:   "Store one memory record",
		Example: `  mnemo store "shipped the release" --tag excited --tags project,achievement`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*configPath, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			p := memory.StoreParams{
				Content:      args[0],
				EmotionalTag: memory.EmotionalTag(tag),
				Tags:         tags,
				SessionID:    session,
			}
			if tier != "" {
				t, err := memory.ParseTier(tier)
				if err != nil {
					return err
				}
				p.Tier = &t
			}

			id, err := svc.Store(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "neutral", "Emotional tag")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Context tags")
	cmd.Flags().StringVar(&tier, "tier", "", "Pin the target tier instead of classifying")
	cmd.Flags().StringVar(&session, "session", "", "Session id (default: per-invocation)")
	return cmd
}

func newRecallCommand(configPath *string) *cobra.Command {
	var (
		tiers []string
		tag   string
		limit int
	)

	cmd := &cobra.Command{
		Use:     "recall [query]",
		Short:   "Retrieve records by substring and similarity",
		Example: `  mnemo recall "release plan" --tiers short,medium --limit 5`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*configPath, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			p := memory.RetrieveParams{
				Query:        query,
				EmotionalTag: memory.EmotionalTag(tag),
				Limit:        limit,
			}
			if tiers != nil {
				for _, name := range tiers {
					t, err := memory.ParseTier(name)
					if err != nil {
						return err
					}
					p.Tiers = append(p.Tiers, t)
				}
			}

			records, err := svc.Retrieve(cmd.Context(), p)
			if err != nil {
				return err
			}
			printRecords(records)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tiers, "tiers", nil, "Tiers to search (default: all)")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by emotional tag")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	return cmd
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier record counts and average importance",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*configPath, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(stats)
			return nil
		},
	}
}

func newSweepCommand(configPath *string) *cobra.Command {
	var (
		maxAgeDays    int
		minImportance float64
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete old, low-importance records from the volatile tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*configPath, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			deleted, err := svc.Sweep(cmd.Context(),
				time.Duration(maxAgeDays)*24*time.Hour, minImportance)
			if err != nil {
				return err
			}
			fmt.Printf("swept %d record(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 30, "Delete records older than this many days")
	cmd.Flags().Float64Var(&minImportance, "min-importance", 0.3, "Delete only records below this importance")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func printRecords(records []memory.Record) {
	if len(records) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, rec := range records {
		tags := ""
		if len(rec.Tags) > 0 {
			tags = " [" + strings.Join(rec.Tags, ",") + "]"
		}
		fmt.Printf("%s  %-11s  %.2f  %s  %s%s\n",
			rec.ID, rec.Tier, rec.Importance,
			rec.CreatedAt.Format("2006-01-02 15:04"), rec.Content, tags)
	}
}

func printStats(stats map[memory.Tier]memory.TierStats) {
	tiers := make([]memory.Tier, 0, len(stats))
	for tier := range stats {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	for _, tier := range tiers {
		st := stats[tier]
		fmt.Printf("%-11s  count=%d  avg_importance=%.3f\n", tier, st.Count, st.AverageImportance)
	}
}

// drainEvents prints bus events until ctx is done. Used by the console to
// surface promotions and evictions as they happen.
func drainEvents(ctx context.Context, events *bus.EventBus) {
	for {
		ev, ok := events.Consume(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case bus.EventPromoted:
			fmt.Printf("  ↑ promoted %s %s → %s\n", ev.RecordID, ev.Tier, ev.ToTier)
		case bus.EventEvicted:
			fmt.Printf("  ✕ evicted %s from %s\n", ev.RecordID, ev.Tier)
		case bus.EventSwept:
			fmt.Printf("  ✕ swept %d record(s) from %s\n", ev.Count, ev.Tier)
		}
	}
}
