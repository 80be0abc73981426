package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/config"
	"github.com/dayuer/askrelay/internal/confighub"
	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/providers"
	"github.com/dayuer/askrelay/internal/querylog"
	"github.com/dayuer/askrelay/internal/rag"
	"github.com/dayuer/askrelay/internal/redis"
	"github.com/dayuer/askrelay/internal/router"
	"github.com/dayuer/askrelay/internal/server"
	"github.com/dayuer/askrelay/internal/session"
	"github.com/dayuer/askrelay/internal/utils"
)

var (
	servePort   int
	serveIngest bool
)

// sessionDrainTimeout bounds how long shutdown waits for running sessions
// before cancelling them.
const sessionDrainTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the router, the session relay and the admin API",
	Long: `Start askrelay with:
  - POST /api/ask      routed answers (knowledge base or interactive session)
  - GET  /ws           duplex relay for interactive sessions
  - /api/*             admin endpoints (profile, assistants, upload, queries, status)

SIGHUP reloads the config file, swaps the LLM provider and re-reads the
supervisor profile and assistants roster.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	serveCmd.Flags().BoolVar(&serveIngest, "ingest", false, "ingest the knowledge directory at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	if _, err := logging.Init(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()
	log := logging.Named("serve")

	// 1. Optional Redis mirror for the routing cache
	if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
		defer redis.Close()
	}

	// 2. Query log
	var qlog server.QueryLog
	if store, err := querylog.Open(cfg.Store.QueryLogPath, logging.Named("querylog")); err != nil {
		log.Warn("query log disabled", zap.Error(err))
	} else {
		qlog = store
		defer store.Close()
	}

	// 3. Knowledge store and baseline answers
	kb := rag.NewStore(rag.Config{
		CollectionName:   cfg.RAG.Collection,
		EmbeddingModel:   cfg.RAG.EmbeddingModel,
		EmbeddingAPIKey:  cfg.RAG.EmbeddingAPIKey,
		EmbeddingBaseURL: cfg.RAG.EmbeddingBaseURL,
		ChromaURL:        cfg.RAG.ChromaURL,
		Logger:           logging.Named("rag"),
	})
	provider := providers.NewDynamicProvider(makeProvider(cfg.LLM))
	answerer := rag.NewAnswerer(rag.AnswererConfig{
		Retriever:   kb,
		Provider:    provider,
		Model:       cfg.LLM.Model,
		TopK:        cfg.RAG.TopK,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Logger:      logging.Named("answer"),
	})

	// 4. Router
	rt := router.New(router.Config{
		Answerer:   answerer,
		Classifier: router.NewOpenAIClassifier(cfg.Router.APIKey, cfg.Router.APIBase, cfg.Router.Model),
		CacheTTL:   cfg.Router.CacheTTL.D(),
		Logger:     logging.Named("router"),
	})

	// 5. Admin configuration
	admin := confighub.New(cfg.Admin.ProfilePath, cfg.Admin.RosterPath, confighub.WithLogger(logging.Named("confighub")))
	if err := admin.Reload(); err != nil {
		log.Warn("admin config not loaded, using defaults", zap.Error(err))
	}

	// 6. Sessions
	hub := bus.NewHub(bus.HubConfig{
		Retention: cfg.Session.Retention.D(),
		MaxAge:    hubMaxAge(cfg.Session),
		Logger:    logging.Named("bus"),
	})
	defer hub.Stop()

	var transcriptAPI server.Transcripts
	transcripts, err := session.NewTranscriptStore(cfg.Store.TranscriptsDir)
	if err != nil {
		log.Warn("transcripts disabled", zap.Error(err))
	} else {
		transcriptAPI = transcripts
	}
	launcher := session.NewLauncher(session.LauncherConfig{
		Executor: &session.GroupChatExecutor{
			Provider:    provider,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Dispatcher:  makeDispatcher(cfg.Session),
			Selection:   cfg.Session.Selection,
			Logger:      logging.Named("groupchat"),
		},
		Workers:           cfg.Session.Workers,
		HumanInputTimeout: cfg.Session.HumanInputTimeout.D(),
		SessionTimeout:    cfg.Session.SessionTimeout.D(),
		Transcripts:       transcripts,
		Logger:            logging.Named("launcher"),
	})

	// 7. HTTP server
	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		APIKey:         cfg.Server.APIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Router:         rt,
		Hub:            hub,
		Launcher:       launcher,
		Admin:          admin,
		QueryLog:       qlog,
		Ingester:       kb,
		Transcripts:    transcriptAPI,
		KnowledgeDir:   cfg.RAG.KnowledgeDir,
		MaxTurns:       cfg.Session.MaxTurns,
		Logger:         logging.Named("server"),
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Admin.Watch {
		go watchAdmin(ctx, admin, cfg.Admin, log)
	}
	if serveIngest {
		go ingestKnowledge(ctx, kb, cfg.RAG.KnowledgeDir, log)
	}

	if pid, ok := runningPID(); ok && pid != os.Getpid() {
		return fmt.Errorf("askrelay server is already running (PID %d)", pid)
	}
	if err := writePID(os.Getpid()); err != nil {
		log.Warn("pid file not written", zap.Error(err))
	}
	defer removePID()

	log.Info("askrelay starting",
		zap.String("version", Version),
		zap.String("model", cfg.LLM.Model),
		zap.String("routerModel", cfg.Router.Model),
		zap.Int("assistants", len(admin.Current().Roster.Assistants)),
		zap.Bool("redis", redis.IsAvailable()),
		zap.Bool("queryLog", qlog != nil))

	// Graceful shutdown + SIGHUP reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					reload(provider, admin, log)
					continue
				}
				log.Info("shutting down", zap.String("signal", sig.String()))
				drainCtx, drainCancel := context.WithTimeout(context.Background(), sessionDrainTimeout)
				if err := launcher.Shutdown(drainCtx); err != nil {
					log.Warn("sessions cancelled at shutdown", zap.Error(err))
				}
				drainCancel()
				cancel()
				return
			}
		}
	}()

	return srv.Start(ctx)
}

// hubMaxAge lets the janitor reclaim pairs whose session outlived its
// timeout plus the drain window.
func hubMaxAge(c config.SessionConfig) time.Duration {
	if c.SessionTimeout <= 0 {
		return 0
	}
	return c.SessionTimeout.D() + c.Retention.D()
}

// reload re-reads the config file and the admin files on SIGHUP.
func reload(provider *providers.DynamicProvider, admin *confighub.ConfigHub, log *zap.Logger) {
	log.Info("SIGHUP received, reloading")
	cfg, err := loadConfig()
	if err != nil {
		log.Warn("reload failed, keeping current config", zap.Error(err))
	} else {
		provider.Swap(makeProvider(cfg.LLM))
		log.Info("provider swapped", zap.String("model", cfg.LLM.Model))
	}
	if err := admin.Reload(); err != nil {
		log.Warn("admin reload failed", zap.Error(err))
	}
}

func watchAdmin(ctx context.Context, admin *confighub.ConfigHub, c config.AdminConfig, log *zap.Logger) {
	for _, p := range []string{c.ProfilePath, c.RosterPath} {
		if _, err := utils.EnsureDir(filepath.Dir(p)); err != nil {
			log.Warn("admin watch disabled", zap.Error(err))
			return
		}
	}
	if err := admin.Watch(ctx); err != nil {
		log.Warn("admin watch stopped", zap.Error(err))
	}
}

func ingestKnowledge(ctx context.Context, kb *rag.Store, dir string, log *zap.Logger) {
	if _, err := utils.EnsureDir(dir); err != nil {
		log.Warn("knowledge dir unavailable", zap.Error(err))
		return
	}
	n, err := kb.IngestDir(ctx, dir)
	if err != nil {
		log.Warn("knowledge ingestion failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	log.Info("knowledge ingested", zap.String("dir", dir), zap.Int("chunks", n))
}
