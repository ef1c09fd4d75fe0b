package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"replayq/internal/banner"
	"replayq/internal/cli"
	"replayq/internal/dummy"
	"replayq/internal/replay"
	"replayq/internal/source"
	"replayq/internal/stats"
	"replayq/internal/storage"
	"replayq/internal/tui"
)

var (
	cfgFile string

	// CLI Flags
	logFile     string
	logFormat   string
	host        string
	port        int
	speed       float64
	runTime     float64
	timeout     int
	grace       time.Duration
	outPrefix   string
	headers     []string
	replayTypes []string
	useTUI      bool
	noHistory   bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "replayq",
	Short: "ReplayQ - Replay recorded request logs as live load",
	Long: `
ReplayQ replays a recorded request log (e.g. an Elasticsearch search
slowlog) against a live target, preserving the original inter-request
timing scaled by a speed multiplier, and reports outcome statistics.

Modes:
1. Headless (default): progress line + summary, for CI/CD usage
2. TUI (--tui): live dashboard while the replay runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context())
	},
	SilenceUsage: true,
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.replayq.yaml)")

	rootCmd.Flags().StringVarP(&logFile, "log-file", "f", "", "Recorded request log to replay (required)")
	rootCmd.Flags().StringVar(&logFormat, "format", "slowlog", "Log format: slowlog | records")
	rootCmd.Flags().StringVarP(&host, "host", "H", "", "Target host (required)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 9200, "Target port")
	rootCmd.Flags().Float64VarP(&speed, "speed", "s", 1.0, "Speed multiplier: >1 compresses recorded time, <1 stretches it")
	rootCmd.Flags().Float64VarP(&runTime, "run-time", "t", 1.0, "Wall-clock run time in minutes")
	rootCmd.Flags().IntVar(&timeout, "timeout", 30, "Per-request timeout in seconds")
	rootCmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "Drain grace before cancelling outstanding requests")
	rootCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "Output filename prefix for report export")
	rootCmd.Flags().StringSliceVar(&headers, "header", []string{}, "HTTP Header (e.g. \"Key: Value\")")
	rootCmd.Flags().StringSliceVar(&replayTypes, "replay-types", nil, "Slowlog entry types to replay (default: query)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Run with the live dashboard")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip saving the run to history")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.MarkFlagRequired("log-file")
	rootCmd.MarkFlagRequired("host")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".replayq")
		}
	}
	viper.SetEnvPrefix("replayq")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func runReplay(ctx context.Context) error {
	setupLogging(os.Stderr)

	cfg := replay.Config{
		TargetHost: host,
		TargetPort: port,
		Speed:      speed,
		RunTime:    runTime,
		TimeoutSec: timeout,
		DrainGrace: grace,
		Headers:    parseHeaders(headers),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	src, err := openSource()
	if err != nil {
		return err
	}

	acc := stats.NewHistogramAccumulator()

	historyPath := ""
	if !noHistory {
		if p, err := storage.DefaultPath(); err == nil {
			historyPath = p
		}
	}

	if useTUI {
		cfg.RecordResults = outPrefix != ""
		updates := make(replay.SnapshotChan, 100)
		r, err := replay.NewRunner(cfg, src, acc, updates)
		if err != nil {
			return err
		}
		rep, err := tui.Run(r, updates)
		if err != nil {
			return err
		}
		return cli.Persist(cfg, rep, r.Results(), outPrefix, historyPath)
	}

	return cli.Start(ctx, cli.Options{
		Cfg:         cfg,
		Src:         src,
		Acc:         acc,
		OutPrefix:   outPrefix,
		HistoryPath: historyPath,
	})
}

func parseHeaders(raw []string) map[string]string {
	out := make(map[string]string)
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return out
}

func openSource() (source.Source, error) {
	switch strings.ToLower(logFormat) {
	case "slowlog":
		return source.NewSlowlogSource(logFile, source.SlowlogOptions{Types: replayTypes})
	case "records":
		return source.NewRecordsSource(logFile)
	}
	return nil, fmt.Errorf("unknown log format %q (want slowlog or records)", logFormat)
}

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a local dummy replay target",
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		dummy.Start(dummy.ServerConfig{Port: port})
		<-cmd.Context().Done()
	},
}

// --- History Subcommand ---
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent replay runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := storage.DefaultPath()
		if err != nil {
			return err
		}
		store, err := storage.NewStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		for _, item := range items {
			run := item.Report.RunInformation
			fmt.Printf("%s  %s  %s  sent=%d rps=%.1f behind=%.2fs\n",
				item.Timestamp.Format("2006-01-02 15:04:05"),
				item.ID[:8],
				item.Config.BaseURL(),
				run.NumSentRequests,
				run.AverageRequestsPerSecond,
				run.SecondsBehind,
			)
		}
		return nil
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run the dummy target on")
}
