package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/loomlabs/chatloom/ai/classifier"
	"github.com/loomlabs/chatloom/ai/embedding"
	"github.com/loomlabs/chatloom/ai/llm"
	"github.com/loomlabs/chatloom/archive"
	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/conversations/untangle"
	"github.com/loomlabs/chatloom/internal/profile"
	"github.com/loomlabs/chatloom/internal/version"
	"github.com/loomlabs/chatloom/metrics"
	"github.com/loomlabs/chatloom/pipeline"
	"github.com/loomlabs/chatloom/server"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 unrecoverable
// upstream failure, 3 state invariant violation.
const (
	exitOK        = 0
	exitConfig    = 1
	exitUpstream  = 2
	exitInvariant = 3
)

var rootCmd = &cobra.Command{
	Use:   "chatloom",
	Short: "Disentangles a chat feed into calendar conversations and archives them as JSON.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Best effort; deployments configure through real env vars.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(run())
	},
}

func run() int {
	instanceProfile := &profile.Profile{
		Mode:       viper.GetString("mode"),
		FeedURL:    viper.GetString("feed-url"),
		ResultsDir: viper.GetString("results-dir"),
		OpsAddr:    viper.GetString("ops-addr"),
		Version:    version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	setupLogger(instanceProfile)

	if err := instanceProfile.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitConfig
	}

	p, ledger, err := buildPipeline(instanceProfile)
	if err != nil {
		slog.Error("failed to assemble pipeline", "error", err)
		return exitConfig
	}
	if ledger != nil {
		defer ledger.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), terminationSignals...)
	defer stop()

	slog.Info("chatloom_started", "version", instanceProfile.Version,
		"feed", instanceProfile.FeedURL, "results_dir", instanceProfile.ResultsDir)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	if instanceProfile.OpsAddr != "" {
		ops := server.New(instanceProfile.OpsAddr, p.Manager(), p.Metrics().Registry())
		g.Go(func() error { return ops.Start(ctx) })
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, conversations.ErrInvariant) {
			slog.Error("invariant violation, terminating", "error", err)
			return exitInvariant
		}
		slog.Error("pipeline failed", "error", err)
		return exitUpstream
	}
	slog.Info("chatloom_stopped")
	return exitOK
}

func buildPipeline(p *profile.Profile) (*pipeline.Pipeline, *archive.Ledger, error) {
	mx := metrics.New(nil)

	llmService, err := llm.NewService(&llm.Config{
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.ExternalTimeoutSecs,
	})
	if err != nil {
		return nil, nil, err
	}

	embedder, err := embedding.NewProvider(&embedding.Config{
		Model:   p.EmbeddingModel,
		APIKey:  p.EmbeddingAPIKey,
		BaseURL: p.EmbeddingBaseURL,
	})
	if err != nil {
		return nil, nil, err
	}

	calendar, err := classifier.NewClient(&classifier.Config{
		BaseURL: p.ClassifierBaseURL,
		Timeout: p.ExternalTimeoutSecs,
	})
	if err != nil {
		return nil, nil, err
	}

	continuation := untangle.NewFallback(
		untangle.NewLLMClassifier(llmService),
		untangle.NewRuleClassifier(embedder, untangle.DefaultRuleConfig()),
		mx,
	)
	evaluator := conversations.NewEvaluator(
		time.Duration(p.SuspendAfterSecs)*time.Second,
		time.Duration(p.CompleteGraceSecs)*time.Second,
		conversations.NewLLMDatetimeExtractor(llmService),
		time.Duration(p.ExternalTimeoutSecs)*time.Second,
	)

	// The ledger is an operator convenience; run file-only if it cannot
	// be opened.
	ledger, err := archive.OpenLedger(filepath.Join(p.ResultsDir, "ledger.db"))
	if err != nil {
		slog.Warn("ledger unavailable, archiving to files only", "error", err)
		ledger = nil
	}

	return pipeline.New(pipeline.Config{
		FeedURL:         p.FeedURL,
		Classifier:      calendar,
		Continuation:    continuation,
		Evaluator:       evaluator,
		ConfidenceGate:  p.ConfidenceGate,
		ChannelCapacity: p.ChannelCapacity,
		ArchiveEvery:    p.ArchiveEvery,
		ResultsDir:      p.ResultsDir,
		Ledger:          ledger,
		Metrics:         mx,
	}), ledger, nil
}

func setupLogger(p *profile.Profile) {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

func init() {
	viper.SetDefault("mode", "dev")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("feed-url", "", "websocket url of the chat feed, overrides WS_SOCK")
	rootCmd.PersistentFlags().String("results-dir", "", "directory for archived conversations, overrides RESULTS_DIR")
	rootCmd.PersistentFlags().String("ops-addr", "", "listen address of the ops http server")

	for _, flag := range []string{"mode", "feed-url", "results-dir", "ops-addr"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
