package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/bus"
	"github.com/afrintel/lms-realtime/internal/challenge"
	"github.com/afrintel/lms-realtime/internal/config"
	"github.com/afrintel/lms-realtime/internal/gateway"
	"github.com/afrintel/lms-realtime/internal/score"
	"github.com/afrintel/lms-realtime/internal/scoring"
	"github.com/afrintel/lms-realtime/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Shared database with the rest of the platform.
	mongoClient, err := store.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to disconnect MongoDB")
		}
	}()

	users := store.NewUserStore(mongoClient.Collection(cfg.Mongo.UsersColl), cfg.Mongo.OpTimeout)
	teams := store.NewTeamStore(mongoClient.Collection(cfg.Mongo.TeamsColl), cfg.Mongo.OpTimeout)
	challenges := store.NewChallengeStore(mongoClient.Collection(cfg.Mongo.ChallColl), cfg.Mongo.OpTimeout)

	// Ephemeral challenge state.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping Redis")
	}
	defer rdb.Close()
	scores := score.NewStore(rdb)

	// Event bus.
	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.NATS.URL
	busCfg.StreamName = cfg.NATS.StreamName
	busCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

	publisher, err := bus.NewPublisher(busCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	scorer := scoring.NewScorer(scoring.Mode(cfg.Scoring.Mode))
	svc := challenge.NewService(ctx, teams, challenges, scores, scorer, publisher, clockwork.NewRealClock())

	// Re-arm timers for challenges that were running before a restart.
	if err := svc.ResumeActive(ctx); err != nil {
		log.Error().Err(err).Msg("failed to resume active challenges")
	}

	auth := gateway.NewAuthenticator(cfg.Auth.JWTSecret, users)
	gw, err := gateway.NewService(gateway.DefaultConnectionConfig(), auth, svc, busCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway")
	}
	defer gw.Stop()
	gw.Start(ctx)

	server := setupServer(cfg, gw)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("coordinator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	log.Info().Msg("coordinator stopped")
}

func setupServer(cfg *config.Config, gw *gateway.Service) *http.Server {
	mux := http.NewServeMux()

	gw.RegisterRoutes(mux)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: c.Handler(mux),
	}
}
