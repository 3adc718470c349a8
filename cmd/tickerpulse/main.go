// TickerPulse: tiered news aggregation and daily LLM summaries per ticker.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/pipeline"
	"github.com/seenimoa/tickerpulse/internal/store"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tickerpulse",
	Short: "TickerPulse: daily news digests for tracked tickers",
	Long: `TickerPulse collects news for tracked stock symbols from tiered sources,
deduplicates and stores the articles, and writes one LLM summary per
symbol per day, including what changed since the previous days.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win.
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		logging.Setup(level, cfg.Logging.Format, nil)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TickerPulse %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server + Scheduler) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the daily scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.seedSymbols(ctx); err != nil {
			return fmt.Errorf("seed symbols: %w", err)
		}

		sched, err := a.newScheduler()
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()

		if a.cfg.Schedule.Enabled {
			fmt.Printf("⏰ Daily refresh at %s (%s), next %s\n", cfg.Schedule.DailyAt, cfg.Schedule.Timezone,
				utils.FormatDateTime(sched.Next(), utils.LoadLocation(cfg.Schedule.Timezone)))
		}

		addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
		fmt.Printf("🌐 Starting TickerPulse API server on %s\n", addr)
		return a.newServer().ListenAndServe(ctx, addr)
	},
}

// --- Refresh Command ---

var refreshCmd = &cobra.Command{
	Use:   "refresh [symbol]",
	Short: "Refresh news and today's summary for one symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.service.Refresh(ctx, args[0], pipeline.Opts{Force: force})
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	refreshCmd.Flags().Bool("force", false, "bypass both cache namespaces")
}

func printResult(res *pipeline.Result) {
	rec := res.Record
	fmt.Printf("📰 %s — %s [%s]\n", res.Symbol, rec.Date, rec.Status)
	fmt.Printf("   Articles: %d collected, %d new, %d duplicate (news cached: %v)\n",
		res.Articles, res.Saved, res.Skipped, res.NewsCached)
	if rec.Sentiment.Articles > 0 {
		fmt.Printf("   Sentiment: %s (%+.3f)\n", rec.Sentiment.Label, rec.Sentiment.Score)
	}
	fmt.Printf("   What changed: %s\n\n", rec.Delta)
	fmt.Println(rec.Narrative)
}

// --- Daily Command ---

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Run the daily batch refresh once over all tracked symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.seedSymbols(ctx); err != nil {
			return fmt.Errorf("seed symbols: %w", err)
		}
		report, err := a.service.RefreshAll(ctx)
		if err != nil {
			return err
		}
		for _, s := range report.Symbols {
			line := fmt.Sprintf("  %-8s %-9s %3d articles", s.Symbol, s.Status, s.Articles)
			if s.Error != "" {
				line += "  error: " + s.Error
			}
			fmt.Println(line)
		}
		fmt.Printf("Done in %s, %d failed\n", report.Finished.Sub(report.Started).Round(time.Second), report.Failed)
		if err := a.sendDigest(ctx, report); err != nil {
			fmt.Printf("⚠️  digest not sent: %v\n", err)
		} else if a.notifier != nil {
			fmt.Printf("📧 Digest sent to %d recipient(s)\n", len(cfg.Notify.To))
		}
		if report.Failed > 0 && report.Failed == len(report.Symbols) {
			return errors.New("every symbol failed")
		}
		return nil
	},
}

// --- Digest Command ---

var digestCmd = &cobra.Command{
	Use:   "digest [symbol]",
	Short: "Mail the latest stored summaries without refreshing",
	Long: `Mail the latest stored summary for one symbol, or a digest covering
every tracked symbol when none is given. Requires notify.enabled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Notify.Enabled {
			return errors.New("notify is disabled; set notify.enabled and the smtp settings")
		}
		return withStore(func(ctx context.Context, st *store.SQLStore) error {
			n := newNotifier(cfg, st)
			if len(args) == 1 {
				sym := utils.NormalizeSymbol(args[0])
				if !utils.ValidSymbol(sym) {
					return fmt.Errorf("invalid symbol %q", args[0])
				}
				if err := n.SendSymbol(ctx, sym); err != nil {
					return err
				}
				fmt.Printf("📧 %s summary sent\n", sym)
				return nil
			}
			symbols, err := st.ListSymbols(ctx)
			if err != nil {
				return err
			}
			report := &pipeline.BatchReport{}
			for _, sym := range symbols {
				report.Symbols = append(report.Symbols, pipeline.SymbolReport{Symbol: sym})
			}
			if err := n.SendDigest(ctx, report); err != nil {
				return err
			}
			fmt.Printf("📧 Digest for %d symbol(s) sent\n", len(symbols))
			return nil
		})
	},
}

// --- Symbols Commands ---

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage tracked symbols",
}

var symbolsAddCmd = &cobra.Command{
	Use:   "add [symbol...]",
	Short: "Track one or more symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.SQLStore) error {
			for _, raw := range args {
				sym := utils.NormalizeSymbol(raw)
				if !utils.ValidSymbol(sym) {
					return fmt.Errorf("invalid symbol %q", raw)
				}
				switch err := st.AddSymbol(ctx, sym); {
				case errors.Is(err, store.ErrSymbolExists):
					fmt.Printf("  %s already tracked\n", sym)
				case err != nil:
					return err
				default:
					fmt.Printf("  + %s\n", sym)
				}
			}
			return nil
		})
	},
}

var symbolsRemoveCmd = &cobra.Command{
	Use:     "remove [symbol]",
	Aliases: []string{"rm"},
	Short:   "Stop tracking a symbol and delete its stored data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.SQLStore) error {
			sym := utils.NormalizeSymbol(args[0])
			if err := st.RemoveSymbol(ctx, sym); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%s is not tracked", sym)
				}
				return err
			}
			fmt.Printf("  - %s\n", sym)
			return nil
		})
	},
}

var symbolsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.SQLStore) error {
			symbols, err := st.ListSymbols(ctx)
			if err != nil {
				return err
			}
			if len(symbols) == 0 {
				fmt.Println("No symbols tracked.")
				return nil
			}
			for _, sym := range symbols {
				fmt.Println(sym)
			}
			return nil
		})
	},
}

func init() {
	symbolsCmd.AddCommand(symbolsAddCmd, symbolsRemoveCmd, symbolsListCmd)
}

func withStore(fn func(ctx context.Context, st *store.SQLStore) error) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
