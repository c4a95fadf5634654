package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/mnemokit/mnemo/pkg/bus"
	"github.com/mnemokit/mnemo/pkg/memory"
)

func newConsoleCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive memory console",
		Long: strings.TrimSpace(`Open an interactive console against the store. Commands:

  store <text>          store a record (classifier picks the tier)
  recall <query>        retrieve up to 10 matching records
  context [query]       show recent session context
  stats                 per-tier statistics
  sweep <days> <min>    retention sweep
  exit                  leave the console`),
		RunE: func(cmd *cobra.Command, args []string) error {
			events := bus.NewEventBus()
			svc, err := openService(*configPath, events)
			if err != nil {
				return err
			}
			defer svc.Close()
			defer events.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go drainEvents(ctx, events)

			return runConsole(ctx, svc)
		},
	}
}

func runConsole(ctx context.Context, svc *memory.Service) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mnemo> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mnemo_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("session %s (type 'exit' to leave)\n", svc.SessionID())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runConsoleCommand(ctx, svc, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runConsoleCommand(ctx context.Context, svc *memory.Service, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "store":
		if rest == "" {
			return fmt.Errorf("usage: store <text>")
		}
		id, err := svc.Store(ctx, memory.StoreParams{Content: rest})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "recall":
		records, err := svc.Retrieve(ctx, memory.RetrieveParams{Query: rest, Limit: 10})
		if err != nil {
			return err
		}
		printRecords(records)
		return nil

	case "context":
		records, err := svc.SessionContext(ctx, rest, 5)
		if err != nil {
			return err
		}
		printRecords(records)
		return nil

	case "stats":
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(stats)
		return nil

	case "sweep":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return fmt.Errorf("usage: sweep <max-age-days> <min-importance>")
		}
		days, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("bad max-age-days: %w", err)
		}
		minImportance, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("bad min-importance: %w", err)
		}
		deleted, err := svc.Sweep(ctx, time.Duration(days)*24*time.Hour, minImportance)
		if err != nil {
			return err
		}
		fmt.Printf("swept %d record(s)\n", deleted)
		return nil
	}

	return fmt.Errorf("unknown command %q", verb)
}
