package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jenniferccao/wind-route-sim/internal/api"
	"github.com/jenniferccao/wind-route-sim/internal/arrows"
	"github.com/jenniferccao/wind-route-sim/internal/briefing"
	"github.com/jenniferccao/wind-route-sim/internal/config"
	"github.com/jenniferccao/wind-route-sim/internal/storage/sqlite"
	"github.com/jenniferccao/wind-route-sim/internal/websocket"
	"github.com/jenniferccao/wind-route-sim/internal/wind"
	"github.com/jenniferccao/wind-route-sim/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wind-route-sim server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Session storage is in-memory: a restart starts a fresh session.
	storage, err := sqlite.NewRouteStorage(log)
	if err != nil {
		log.Error("Failed to create session storage", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()

	windClient := wind.NewClient(cfg.Wind, log)
	windService := wind.NewService(cfg.Wind, windClient, log)
	arrowService := arrows.NewService(cfg.Arrows, windClient, log)

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Rate-limit transitions go out to connected clients
	windService.SetNotifier(wsServer)

	// Create briefing service (if enabled)
	var briefingService *briefing.Service
	if cfg.Briefing.Enabled {
		briefingService, err = briefing.NewService(context.Background(), cfg.Briefing.APIKey, cfg.Briefing.Model, log)
		if err != nil {
			log.Error("Failed to create briefing service", logger.Error(err))
			// Continue without briefings rather than failing
			briefingService = nil
		} else {
			log.Info("Briefing service created", logger.String("model", cfg.Briefing.Model))
		}
	} else {
		log.Info("Briefing service disabled in configuration")
	}

	handler := api.NewHandler(windService, arrowService, briefingService, storage, cfg, log, wsServer)
	router := api.NewRouter(handler, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	wsServer.Close()

	// Shutdown all HTTP servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}
