package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"zenflow-backend/config"
	"zenflow-backend/internal/api"
	"zenflow-backend/internal/broadcast"
	"zenflow-backend/internal/db"
	"zenflow-backend/internal/mw"
	"zenflow-backend/internal/notification"
	"zenflow-backend/internal/sampler"
	"zenflow-backend/internal/store"
	"zenflow-backend/internal/tracker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yaml" // Default path for local development
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "zenflowd",
		Short:         "ZenFlow desk presence tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newLogsCmd(&configPath))
	root.AddCommand(newLogOnCmd(&configPath))
	root.AddCommand(newLogOffCmd(&configPath))
	root.AddCommand(newSessionsCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sampler and the HTTP/WebSocket server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func newLogsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the partial absence log and the active session as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, closeDB, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			ctx := cmd.Context()
			partial, err := s.ListPartialLogs(ctx)
			if err != nil {
				return err
			}
			active, err := s.GetActivePermanentSession(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"partial": partial, "permanent": active})
		},
	}
}

func newLogOnCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logon",
		Short: "Start a permanent session, closing any active one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, closeDB, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			session, err := s.LogOnPermanent(cmd.Context(), time.Now().In(cfg.Tracker.Location))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged on session=%d at %s\n", session.ID, session.LogOnTime.Format(time.RFC3339))
			return nil
		},
	}
}

func newLogOffCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logoff",
		Short: "Close the active permanent session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, closeDB, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			session, err := s.LogOffPermanent(cmd.Context(), time.Now().In(cfg.Tracker.Location))
			if err != nil {
				return err
			}
			if session == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no active session")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged off session=%d at %s\n", session.ID, session.LogOffTime.Format(time.RFC3339))
			return nil
		},
	}
}

func newSessionsCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Print permanent session history as JSON, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, closeDB, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer closeDB()
			sessions, err := s.ListPermanentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, sessions)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions (0 for all)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openStore loads the configuration and opens the database. The returned
// func closes the connection pool.
func openStore(configPath string) (*config.Config, store.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration from %s: %w", configPath, err)
	}
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return cfg, store.NewGormStore(gormDB), closeFn, nil
}

func serve(configPath string) error {
	// Setup logger
	logger := log.New(os.Stdout, "zenflow ", log.LstdFlags)

	cfg, appStore, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	logger.Printf("configuration loaded successfully from %s", configPath)
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logsCache := mw.NewResponseCache(cfg.Server.CacheTTL)
	presence := tracker.New(
		sampler.CountingSink(appStore, logsCache.Flush),
		tracker.WithDebounce(cfg.Tracker.Debounce),
		tracker.WithLocation(cfg.Tracker.Location),
	)
	hub := broadcast.NewHub(presence, cfg.WebSocket.SendBuffer)
	defer hub.Close()

	if *cfg.Tracker.AutoLogOn {
		session, err := appStore.LogOnPermanent(ctx, time.Now().In(cfg.Tracker.Location))
		if err != nil {
			return fmt.Errorf("auto log on: %w", err)
		}
		logger.Printf("permanent session %d logged on at startup", session.ID)
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		hub.OnPermanentChange(pool.Dispatch)
		logger.Printf("web push enabled with %d workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured; web push disabled")
	}

	var samplerSvc *sampler.Service
	if cfg.Sampler.Enabled {
		if cfg.Sampler.Source.URL == "" || cfg.Sampler.Classifier.URL == "" {
			return errors.New("sampler.source.url and sampler.classifier.url are required when the sampler is enabled")
		}
		samplerSvc = sampler.NewService(
			cfg.Sampler,
			sampler.NewHTTPFrameSource(cfg.Sampler.Source),
			sampler.NewHTTPClassifier(cfg.Sampler.Classifier),
			presence,
			hub,
		)
		samplerSvc.Start(ctx)
		logger.Printf("sampler started at %.1f Hz", cfg.Sampler.SampleRateHz)
	} else {
		logger.Println("sampler disabled")
	}

	router := api.NewRouter(api.Deps{
		Store:     appStore,
		Tracker:   presence,
		Hub:       hub,
		Cache:     logsCache,
		WebPush:   webpushOptions,
		Server:    cfg.Server,
		WebSocket: cfg.WebSocket,
		Location:  cfg.Tracker.Location,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Println("Shutdown signal received, stopping services...")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	if samplerSvc != nil {
		samplerSvc.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}

	logger.Println("Server gracefully stopped")
	return nil
}
