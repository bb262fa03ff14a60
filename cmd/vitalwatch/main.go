package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vitalwatch/internal/api"
	"vitalwatch/internal/api/handlers"
	ws "vitalwatch/internal/api/websocket"
	"vitalwatch/internal/broker"
	"vitalwatch/internal/config"
	"vitalwatch/internal/logging"
	mcpbridge "vitalwatch/internal/mcp"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/service"
	"vitalwatch/internal/simulator"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/storage/repos"
	"vitalwatch/internal/webui"
)

var version = "dev"

func main() {
	var (
		cfgPath string
		baseURL string
		asJSON  bool
	)

	root := &cobra.Command{
		Use:           "vitalwatch",
		Short:         "Ward vital-signs monitor with batched live updates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base API URL for client commands (default $VITALWATCH_URL or http://localhost:8080)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON output")

	root.AddCommand(newServerCommand(&cfgPath))
	root.AddCommand(newMCPCommand(&cfgPath))
	root.AddCommand(newSeedCommand(&cfgPath))
	root.AddCommand(newPatientsCommand(&cfgPath, &baseURL, &asJSON))
	root.AddCommand(newWatchCommand(&cfgPath, &baseURL, &asJSON))
	root.AddCommand(newStatusCommand(&baseURL, &asJSON))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime is the assembled server stack shared by the server and mcp commands.
type runtime struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *sql.DB
	metrics *metrics.Metrics
	broker  *broker.Broker
	app     *service.App
	router  http.Handler
}

func newRuntime(ctx context.Context, cfg config.Config, log *logrus.Logger) (*runtime, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if n, err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	} else if n > 0 {
		log.WithField("applied", n).Info("database migrated")
	}

	m := metrics.New()
	b := broker.New(broker.Options{
		BatchTimeout:   config.BatchTimeout(cfg),
		BatchThreshold: cfg.Broker.BatchThreshold,
		SendQueueSize:  cfg.Broker.SendQueueSize,
		Logger:         log,
		Metrics:        m,
	})
	app := service.New(cfg, repos.New(db), b, log)
	hub := ws.NewHub(b, ws.OptionsFromConfig(cfg), log)
	router := api.NewRouter(handlers.New(app, b, db, cfg), hub, m, log)

	return &runtime{cfg: cfg, log: log, db: db, metrics: m, broker: b, app: app, router: router}, nil
}

func (r *runtime) Close() {
	r.broker.Close()
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Warn("close database")
	}
}

func newServerCommand(cfgPath *string) *cobra.Command {
	var noSimulator bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the vitalwatch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigMaybe(*cfgPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.Simulator.Enabled && !noSimulator {
				sim := simulator.New(rt.app, simulator.OptionsFromConfig(cfg), log)
				if _, err := sim.Seed(ctx, cfg.Simulator.SeedPatients); err != nil {
					return fmt.Errorf("seed ward: %w", err)
				}
				if err := sim.Register(); err != nil {
					return err
				}
				sim.Start()
				defer func() { <-sim.Stop().Done() }()
			}

			var bridge *mcpbridge.Bridge
			if cfg.MCP.Enabled && cfg.MCP.HTTP.Enabled {
				bridge = mcpbridge.New(mcpbridge.Options{Config: cfg, Router: rt.router, Version: version})
				log.WithField("path", cfg.MCP.HTTP.Path).Info("mcp http endpoint enabled")
			}

			httpServer := &http.Server{
				Addr:         config.Addr(cfg),
				Handler:      siteHandler(cfg, rt.router, bridge),
				ReadTimeout:  config.ReadTimeout(cfg),
				WriteTimeout: config.WriteTimeout(cfg),
			}
			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", httpServer.Addr).Info("vitalwatch server listening")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noSimulator, "no-simulator", false, "Disable the synthetic ward even if enabled in config")
	return cmd
}

func newMCPCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tool set over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigMaybe(*cfgPath)
			if err != nil {
				return err
			}
			// Logs go to stderr; stdout carries the protocol.
			log, err := logging.New(cfg)
			if err != nil {
				return err
			}
			rt, err := newRuntime(context.Background(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()
			return mcpbridge.New(mcpbridge.Options{Config: cfg, Router: rt.router, Version: version}).ServeStdio()
		},
	}
}

func newSeedCommand(cfgPath *string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Admit synthetic patients until the ward holds --count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigMaybe(*cfgPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			rt, err := newRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := simulator.New(rt.app, simulator.OptionsFromConfig(cfg), log).Seed(ctx, count)
			if err != nil {
				return err
			}
			fmt.Printf("admitted %d patients\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 12, "Target number of admitted patients")
	return cmd
}

// siteHandler routes API, health and metrics paths to the API router, the MCP path to the
// bridge when one is given, and everything else to the embedded dashboard.
func siteHandler(cfg config.Config, apiRouter http.Handler, bridge *mcpbridge.Bridge) http.Handler {
	uiFS := http.FileServer(http.FS(webui.FS()))
	var mcpHandler http.Handler
	if bridge != nil {
		mcpHandler = bridge.HTTPHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case mcpHandler != nil && r.URL.Path == cfg.MCP.HTTP.Path:
			mcpHandler.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/api/"), r.URL.Path == "/healthz", r.URL.Path == "/metrics":
			apiRouter.ServeHTTP(w, r)
		default:
			uiFS.ServeHTTP(w, r)
		}
	})
}

func loadConfigMaybe(path string) (config.Config, error) {
	if path == "" {
		return config.Load("")
	}
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	} else if errors.Is(err, os.ErrNotExist) {
		return config.Load("")
	} else {
		return config.Config{}, err
	}
}
