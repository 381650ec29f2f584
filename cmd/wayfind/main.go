package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wayfind/internal/advisory"
	"wayfind/internal/clarify"
	"wayfind/internal/config"
	"wayfind/internal/docs"
	"wayfind/internal/logging"
	"wayfind/internal/pool"
	"wayfind/internal/router"
	"wayfind/internal/scope"
	"wayfind/internal/session"
	"wayfind/internal/trace"
	"wayfind/internal/types"
)

var (
	// Global flags
	configPath  string
	fixturePath string
	docsPath    string
	sessionID   string
	verbose     bool
	watchConfig bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wayfind",
	Short: "wayfind - conversational command router for navigation assistants",
	Long: `wayfind routes natural-language turns to UI actions through a fixed
decision ladder: deterministic matching first, a bounded advisory model call
second, and a safe clarifying question as the terminal fallback.

Candidates come from scoped snapshot fixtures; nothing executes unless it is
provably on screen. Run without arguments to start an interactive session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var routeCmd = &cobra.Command{
	Use:   "route [utterance]",
	Short: "Route a single utterance and print the decision",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		sid := sessionID
		if sid == "" {
			sid = uuid.NewString()
		}
		d, err := app.router.Route(cmd.Context(), strings.Join(args, " "), sid)
		if err != nil {
			return err
		}
		printDecision(d)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive routing session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "wayfind.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&fixturePath, "fixture", "f", "", "candidate fixture file (yaml)")
	rootCmd.PersistentFlags().StringVar(&docsPath, "docs", "", "documentation fixture file (yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id (defaults to a fresh one)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&watchConfig, "watch", false, "reload config on change")

	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles the wired router with everything that needs closing.
type app struct {
	router   *router.Router
	sessions *session.Registry
	sink     types.TraceSink
	cfg      *config.Config
}

func (a *app) close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			logger.Warn("trace sink close failed", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return buildAppFromConfig(ctx, cfg)
}

func buildAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logging.Initialize(logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Dir:        cfg.Logging.Dir,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}

	pools := pool.NewBuilder(pool.Config{
		MaxCandidates: cfg.Pool.MaxCandidates,
		GatherTimeout: cfg.Pool.GatherTimeout,
	})
	if fixturePath != "" {
		src, err := pool.LoadFixture(fixturePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixture: %w", err)
		}
		for _, sc := range src.Scopes() {
			pools.Register(sc, src)
		}
		logger.Info("fixture loaded", zap.String("path", fixturePath), zap.Int("scopes", len(src.Scopes())))
	}

	client, err := buildAdvisoryClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	arb := advisory.NewArbitrator(client, pools, advisory.Config{
		CallTimeout:        cfg.Advisory.CallTimeout,
		MaxEnrichmentSteps: cfg.Advisory.MaxEnrichmentSteps,
		MaxCallsPerStep:    cfg.Advisory.MaxCallsPerStep,
	})

	var retriever types.Retriever
	if docsPath != "" {
		fr, derr := docs.Load(docsPath)
		if derr != nil {
			return nil, fmt.Errorf("failed to load docs fixture: %w", derr)
		}
		retriever = fr
	}

	var sink types.TraceSink
	if cfg.Trace.DatabasePath != "" {
		sink, err = trace.NewSQLiteSink(cfg.Trace.DatabasePath)
		if err != nil {
			return nil, err
		}
	} else {
		sink = trace.NewMemorySink()
	}

	sessions := session.NewRegistry(session.Config{
		OptionSetTTLTurns: cfg.Session.OptionSetTTLTurns,
		ChoiceWindow:      cfg.Session.ChoiceWindow,
		IdleEviction:      cfg.Session.IdleEviction,
	})

	r, err := router.New(router.Deps{
		Sessions: sessions,
		Scopes: scope.NewResolver(scope.Config{
			TypoMaxDistance:  cfg.Scope.TypoMaxDistance,
			TypoMinCueLength: cfg.Scope.TypoMinCueLength,
		}),
		Pools:      pools,
		Arbitrator: arb,
		Clarifier:  clarify.New(clarify.Config{MaxShownOptions: cfg.Clarifier.MaxShownOptions}),
		Recorder: trace.NewRecorder(trace.Config{
			MaxEntries:     cfg.Trace.MaxEntries,
			DedupeWindowMS: cfg.Trace.DedupeWindowMS,
		}, sink),
		Retriever: retriever,
		Executor:  &consoleExecutor{},
		Sink:      sink,
	})
	if err != nil {
		return nil, err
	}
	logging.Boot("wayfind %s wired: provider=%s fixture=%q", cfg.Version, cfg.Advisory.Provider, fixturePath)
	return &app{router: r, sessions: sessions, sink: sink, cfg: cfg}, nil
}

func buildAdvisoryClient(ctx context.Context, cfg *config.Config) (types.AdvisoryClient, error) {
	a := cfg.Advisory
	if a.APIKey == "" {
		logger.Warn("no advisory api key configured, running deterministic-only")
		return advisory.NewUnavailableClient(), nil
	}

	var (
		client types.AdvisoryClient
		err    error
	)
	switch a.Provider {
	case "openai":
		var backend *advisory.OpenAIBackend
		backend, err = advisory.NewOpenAIBackend(a.APIKey, a.Model, a.BaseURL)
		if err == nil {
			client = advisory.NewClient(backend, a.CallTimeout)
		}
	case "http":
		hc := advisory.DefaultHTTPConfig(a.APIKey)
		if a.Model != "" {
			hc.Model = a.Model
		}
		if a.BaseURL != "" {
			hc.BaseURL = a.BaseURL
		}
		client = advisory.NewClient(advisory.NewHTTPBackend(hc), a.CallTimeout)
	default: // gemini
		var backend *advisory.GenAIBackend
		backend, err = advisory.NewGenAIBackend(ctx, a.APIKey, a.Model)
		if err == nil {
			client = advisory.NewClient(backend, a.CallTimeout)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build advisory client: %w", err)
	}
	if a.Trace {
		client = advisory.NewTracingClient(client)
	}
	return client, nil
}

// consoleExecutor prints executed actions. A real host replaces it with its
// UI bridge.
type consoleExecutor struct{}

func (*consoleExecutor) Execute(_ context.Context, actionType string, target types.CandidateRef) error {
	fmt.Printf("  [%s] %s (%s, scope=%s)\n", actionType, target.Label, target.ID, target.Scope)
	return nil
}

func runChat(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := buildAppFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var mu sync.Mutex
	current := a

	if watchConfig {
		w, werr := config.NewWatcher(configPath, func(next *config.Config) {
			fresh, berr := buildAppFromConfig(ctx, next)
			if berr != nil {
				logger.Warn("config reload failed, keeping previous wiring", zap.Error(berr))
				return
			}
			mu.Lock()
			old := current
			current = fresh
			mu.Unlock()
			old.close()
			logger.Info("config reloaded", zap.String("path", configPath))
		})
		if werr != nil {
			logger.Warn("config watch unavailable", zap.Error(werr))
		} else {
			if serr := w.Start(ctx); serr != nil {
				logger.Warn("config watch failed to start", zap.Error(serr))
			} else {
				defer w.Stop()
			}
		}
	}

	if cfg.Session.IdleEviction > 0 {
		go func() {
			t := time.NewTicker(cfg.Session.IdleEviction)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					mu.Lock()
					cur := current
					mu.Unlock()
					cur.sessions.EvictIdle()
				}
			}
		}()
	}

	sid := sessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	fmt.Printf("wayfind %s  (session %s)\n", cfg.Version, sid)
	fmt.Println(`Type a request ("open sample2"), or "exit" to leave.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		mu.Lock()
		r := current.router
		mu.Unlock()

		d, rerr := r.Route(ctx, line, sid)
		if rerr != nil {
			fmt.Printf("error: %v\n", rerr)
			continue
		}
		printDecision(d)
	}
	return scanner.Err()
}

func printDecision(d types.RoutingDecision) {
	switch {
	case d.ClarifierText != "":
		fmt.Println(d.ClarifierText)
	case d.Response != "":
		fmt.Println(d.Response)
	}
	if verbose {
		fmt.Printf("  (tier=%s outcome=%s chosen=%s)\n", d.Tier, d.Outcome, d.ChosenCandidateID)
	}
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
