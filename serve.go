package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CrowderSoup/crm-board/database"
	"github.com/CrowderSoup/crm-board/handlers"
	"github.com/CrowderSoup/crm-board/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and push-channel server",
	Long: `Run the REST API and the websocket hub.

When redis.addr is set, board events are relayed through Redis so that
several servers behind a load balancer push to each other's clients.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InsecureSecret() {
		log.Warn().Msg("JWT_SECRET is not set, using the development secret")
	}

	// Initialize database
	db, err := database.InitDB(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize services
	authService := services.NewAuthService(cfg.Server.JWTSecret, cfg.SMTP)
	dataService := database.NewDataService(db)

	var publisher services.Publisher
	if cfg.Redis.Addr != "" {
		relay, err := services.NewRelay(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Namespace)
		if err != nil {
			return err
		}
		defer relay.Close()

		if err := relay.Ping(ctx); err != nil {
			return err
		}
		publisher = relay
		log.Info().Str("addr", cfg.Redis.Addr).Str("origin", relay.Origin()).Msg("relaying board events through redis")
	}

	// Initialize WebSocket hub
	hub := services.NewHub(publisher)
	go hub.Run()
	defer hub.Stop()

	if relay, ok := publisher.(*services.Relay); ok {
		go func() {
			if err := relay.Run(ctx, hub.Deliver, nil); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Auth:           authService,
			Data:           dataService,
			Hub:            hub,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("db", cfg.Server.DBPath).Msg("server starting")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
