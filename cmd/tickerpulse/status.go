package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/tickerpulse/internal/cache"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, API keys, quota and cache backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  TickerPulse — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (IST):    %s\n", utils.FormatDateTime(time.Now(), utils.IST))
		fmt.Println()

		// Config summary
		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    Database:      %s\n", cfg.Database.Driver)
		fmt.Printf("    Daily Run:     %s %s (enabled: %v)\n", cfg.Schedule.DailyAt, cfg.Schedule.Timezone, cfg.Schedule.Enabled)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		// API keys status
		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println()

		// Quota
		ledger, closeLedger, err := newLedger(cfg)
		if err != nil {
			return err
		}
		defer closeLedger()
		fmt.Println("  Daily Quota:")
		snap := ledger.Snapshot()
		for _, name := range ledger.Providers() {
			st := snap[name]
			if st.DailyLimit <= 0 {
				fmt.Printf("    %-20s %d calls (unbounded)\n", name+":", st.CallsMade)
				continue
			}
			fmt.Printf("    %-20s %d/%d used, %d left\n", name+":", st.CallsMade, st.DailyLimit, st.Remaining())
		}
		fmt.Println()

		// Cache backend
		layer := cache.Open(ctx, cache.Options{
			RestURL:      cfg.Cache.RestURL,
			RestToken:    cfg.Cache.RestToken,
			RedisURL:     cfg.Cache.RedisURL,
			ProbeTimeout: time.Duration(cfg.Cache.ProbeTimeoutSec) * time.Second,
		})
		if c, ok := layer.Backend().(io.Closer); ok {
			defer c.Close()
		}
		st := layer.Status()
		fmt.Println("  Cache:")
		fmt.Printf("    Backend:       %s (connected: %v, fallback: %v)\n", st.Backend, st.Connected, st.Fallback)
		if st.Reason != "" {
			fmt.Printf("    Reason:        %s\n", st.Reason)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
