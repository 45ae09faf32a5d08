package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apisentinel/apisentinel/detect"
	"github.com/apisentinel/apisentinel/detect/bus"
	"github.com/apisentinel/apisentinel/detect/server"
	"github.com/apisentinel/apisentinel/detect/simulation"
	"github.com/apisentinel/apisentinel/detect/store"
)

var (
	listenAddr string // Control API listen address
	configPath string // Optional YAML configuration file
	modelDir   string // Override for the model artifact directory
	dbPath     string // Override for the sqlite database path
	simSeed    int64  // Seed for synthetic traffic generation
)

// shutdownGrace bounds the HTTP server drain on exit.
const shutdownGrace = 5 * time.Second

// serveCmd runs the detector service
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection service",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := detect.DefaultConfig()
		if configPath != "" {
			if err := cfg.LoadFile(configPath); err != nil {
				logrus.Fatalf("Config file: %v", err)
			}
		}
		if err := cfg.ApplyEnv(); err != nil {
			logrus.Fatalf("Environment: %v", err)
		}
		if modelDir != "" {
			cfg.ModelDir = modelDir
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		reg := prometheus.NewRegistry()
		metrics := detect.NewMetrics(reg)

		models := detect.LoadModelSet(cfg.ModelDir)
		logrus.Infof("Submodels available: %v", models.Available())

		st, err := store.Open(cfg.DBPath, cfg.ObservationQueueDepth, metrics)
		if err != nil {
			logrus.Fatalf("Persistence: %v", err)
		}

		hub := bus.New(cfg.SubscriberQueueDepth, metrics)
		orch := detect.NewOrchestrator(cfg, models, metrics, st, st, hub)
		engine := simulation.NewEngine(cfg, orch.Observe, metrics, simSeed)

		api := server.New(orch, engine, st, bus.Handler(hub), reg)
		httpServer := &http.Server{Addr: listenAddr, Handler: api.Routes()}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			logrus.Infof("Control API listening on %s (window=%d, db=%s)", listenAddr, cfg.WindowSize, cfg.DBPath)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Fatalf("HTTP server: %v", err)
			}
		}()

		<-ctx.Done()
		logrus.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("HTTP shutdown: %v", err)
		}

		if engine.Active() {
			if err := engine.Stop(); err != nil {
				logrus.Warnf("Simulation stop: %v", err)
			}
		}
		orch.Close()
		st.Flush()
		if err := st.Close(); err != nil {
			logrus.Warnf("Store close: %v", err)
		}
		logrus.Info("Shutdown complete")
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Control API listen address")
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	serveCmd.Flags().StringVar(&modelDir, "models", "", "Model artifact directory (overrides configuration)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "Sqlite database path (overrides configuration)")
	serveCmd.Flags().Int64Var(&simSeed, "seed", 42, "Seed for synthetic traffic generation")

	rootCmd.AddCommand(serveCmd)
}
