package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/wa-digest/digest"
	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
	"github.com/theimaginaryfoundation/wa-digest/digest/provider"
)

const (
	exitError        = 1
	exitInvalidRange = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr, os.LookupEnv)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, digest.ErrInvalidRange) {
		return exitInvalidRange
	}
	return exitError
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	lookupEnv func(string) (string, bool)

	configPath string
	logLevel   string

	cfg       Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd(stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) *cobra.Command {
	a := &app{lookupEnv: lookupEnv}

	root := &cobra.Command{
		Use:           "wa-digest",
		Short:         "Ingest WhatsApp bridge events and build digests",
		Long:          "wa-digest stores chat events posted by a WhatsApp bridge and summarizes them over time windows, either directly or through an LLM map/reduce pass.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: $WA_DIGEST_CONFIG or ./"+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override: DEBUG, INFO, WARNING, ERROR")

	root.AddCommand(
		newServeCmd(a),
		newDigestCmd(a),
		newLLMCmd(a),
		newStatsCmd(a),
		newTailCmd(a),
		newImportCmd(a),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	path, explicit := a.configPath, a.configPath != ""
	if !explicit {
		if v, ok := a.lookupEnv("WA_DIGEST_CONFIG"); ok && v != "" {
			path, explicit = v, true
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := loadConfig(path, explicit, a.lookupEnv)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.logCloser = closer
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

func (a *app) openStore() (eventlog.Store, error) {
	s, err := eventlog.Open(a.cfg.Storage, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

func (a *app) digester(store eventlog.Store) (digest.Digester, error) {
	filter, err := digest.NewChatFilter(a.cfg.Chats.Include, a.cfg.Chats.Exclude)
	if err != nil {
		return digest.Digester{}, err
	}
	return digest.Digester{
		Source: store,
		Logger: a.logger,
		Filter: filter,
		NewExtractor: provider.Factory(provider.OpenAIConfig{
			APIKey:      a.cfg.LLM.APIKey,
			Model:       a.cfg.LLM.Model,
			Temperature: a.cfg.LLM.Temperature,
			BaseURL:     a.cfg.LLM.BaseURL,
			Logger:      a.logger,
		}),
	}, nil
}

func (a *app) llmDefaults() digest.LLMOptions {
	return digest.LLMOptions{
		MaxConversations:     a.cfg.LLM.MaxChats,
		PerConversationLimit: a.cfg.LLM.MsgsPerChat,
		BulletsLimit:         a.cfg.LLM.BulletsLimit,
		Concurrency:          a.cfg.LLM.Concurrency,
	}
}
