package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/metrics"
)

var statsPageSize int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Probe the storefront and show client statistics",
	Long: `Probe the storefront chat endpoints and print timing statistics.

The probe resolves the current user, opens the realtime connection once and
fetches the active conversation's history. Every other command prints the
same statistics on exit with --stats.

Examples:
  starchat stats
  starchat stats --size 200`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsPageSize, "size", 50, "history page size for the probe")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()

	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("User: %s (#%s)\n", user.DisplayName(), user.ID)

	start := time.Now()
	conn, err := newDialer().Dial(ctx)
	if err != nil {
		collector.RecordFailure(metrics.OpConnect, time.Since(start))
		fmt.Printf("Realtime: unreachable (%v)\n", err)
	} else {
		collector.RecordTiming(metrics.OpConnect, time.Since(start))
		fmt.Println("Realtime: connected")
		if err := conn.Close(); err != nil {
			logger.Debug("close probe connection", "error", err)
		}
	}

	conv, err := resolveConversation(ctx, "")
	if err != nil {
		return err
	}
	if conv == nil {
		fmt.Println("Conversation: none active")
	} else {
		start = time.Now()
		msgs, err := api.Messages(ctx, conv.ID, 0, statsPageSize)
		if err != nil {
			collector.RecordFailure(metrics.OpReload, time.Since(start))
			return fmt.Errorf("fetch history: %w", err)
		}
		collector.RecordItems(metrics.OpReload, time.Since(start), int64(len(msgs)))
		fmt.Printf("Conversation: #%s %s, %d messages\n", conv.ID, conv.Status, len(msgs))
	}

	// --stats would print the same block again.
	if !showStats {
		fmt.Println()
		printStats(collector.Snapshot())
	}
	return nil
}

// printStats displays the collected client statistics.
func printStats(s metrics.Snapshot) {
	fmt.Printf("Client Statistics (this run)\n")
	fmt.Printf("═══════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", s.UptimeSeconds)

	sections := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Connect", s.Connect},
		{"Reload", s.Reload},
		{"Send", s.Send},
		{"Stream", s.Stream},
		{"First chunk", s.FirstChunk},
		{"Describe", s.Describe},
	}
	for _, sec := range sections {
		if sec.op == nil {
			continue
		}
		fmt.Printf("\n%s:\n", sec.name)
		printOpStats(sec.op)
	}

	if names := s.CounterNames(); len(names) > 0 {
		fmt.Printf("\nCounters:\n")
		for _, name := range names {
			fmt.Printf("  %-24s %d\n", name, s.Counters[name])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalItems != nil {
		fmt.Printf("  Items: %d total", *op.TotalItems)
		if op.AvgItems != nil {
			fmt.Printf(", avg %.0f", *op.AvgItems)
		}
		if op.MinItems != nil && op.MaxItems != nil {
			fmt.Printf(", min %d, max %d", *op.MinItems, *op.MaxItems)
		}
		fmt.Println()
	}
}
