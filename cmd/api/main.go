package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"rugmania-backend/internal/chain"
	"rugmania-backend/internal/config"
	"rugmania-backend/internal/handlers"
	"rugmania-backend/internal/logging"
	"rugmania-backend/internal/middleware"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/storage"
)

const devDatabase = "rugmania.db"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Init(os.Stdout, cfg.LogLevel)
	apiLog := logging.Logger(logging.API)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisService, err := services.NewRedisService(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	store := storage.NewStore(db)

	var (
		reader   chain.Reader
		verifier services.SettlementVerifier
	)
	if cfg.ChainEnabled() {
		rpc, err := chain.DialRPC(ctx, chain.RPCConfig{
			URLs:     cfg.RPCURLs,
			ChainID:  cfg.ChainID,
			Contract: cfg.ContractAddress,
			Log:      logging.Logger(logging.Chain),
		})
		if err != nil {
			log.Fatalf("Failed to dial RPC: %v", err)
		}
		defer rpc.Close()
		reader = rpc
		verifier = rpc.Verifier()
	} else {
		apiLog.Warnf("RPC_URLS or CONTRACT_ADDRESS unset: settlements are recorded unverified")
	}

	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	hub := handlers.NewFeedHub(logging.Logger(logging.Feed))
	settlements := services.NewSettlementService(services.SettlementServiceConfig{
		Store:       store,
		Redis:       redisService,
		Verifier:    verifier,
		Broadcaster: hub,
		CacheTTL:    cfg.LeaderboardCacheTTL,
		Log:         logging.Logger(logging.Settlement),
	})
	sweeper := services.NewSessionSweeper(redisService, reader, cfg.SweepGrace, logging.Logger(logging.Sessions))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Sessions:    handlers.NewSessionHandler(redisService, logging.Logger(logging.Sessions)),
		Settlements: handlers.NewSettlementHandler(settlements, logging.Logger(logging.Settlement)),
		Users:       handlers.NewUserHandler(store, redisService, apiLog),
		Auth:        handlers.NewAuthHandler(jwtService, apiLog),
		Feed:        handlers.NewFeedHandler(hub, logging.Logger(logging.Feed)),
		JWT:         jwtService,
		Redis:       redisService,
		RateLimit:   middleware.DefaultRateLimit(),
		Log:         apiLog,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		apiLog.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		apiLog.Infof("Shutting down")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openDatabase uses Postgres when DATABASE_DSN is set. Development falls
// back to a local SQLite file.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseDSN != "" {
		return storage.New(cfg.DatabaseDSN)
	}
	if cfg.IsProduction() {
		return nil, errors.New("DATABASE_DSN is required in production")
	}
	logging.Logger(logging.API).Warnf("DATABASE_DSN unset, using %s", devDatabase)
	return storage.Open(sqlite.Open(devDatabase))
}
