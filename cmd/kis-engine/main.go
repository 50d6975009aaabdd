package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sageinvest/kis-engine/internal/balance"
	"github.com/sageinvest/kis-engine/internal/config"
	"github.com/sageinvest/kis-engine/internal/crypto"
	"github.com/sageinvest/kis-engine/internal/handler"
	"github.com/sageinvest/kis-engine/internal/kisclient"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/pipeline"
	"github.com/sageinvest/kis-engine/internal/postgres"
	"github.com/sageinvest/kis-engine/internal/scheduler"
	"github.com/sageinvest/kis-engine/internal/server"
	"github.com/sageinvest/kis-engine/internal/store"
	"github.com/sageinvest/kis-engine/internal/token"
)

const (
	_engineCfgFilePath = "./configs/engine.yaml"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Debug)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineCfg, err := config.LoadEngineConfig(_engineCfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load engine cfg", err)
	}

	cipher, err := crypto.NewCipher(config.EncryptionKey())
	if err != nil {
		zapLogger.Fatalf("%s: can't init credential cipher", err)
	}

	db, err := postgres.NewDB(postgres.NewConfigFromEnv().Setup())
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to database", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db); err != nil {
		zapLogger.Fatalf("%s: can't migrate database", err)
	}

	configRepo := store.NewConfigRepo(db, cipher)
	accountRepo := store.NewAccountRepo(db, cipher)
	tokenRepo := store.NewTokenRepo(db, cipher)
	auditRepo := store.NewAuditRepo(db, zapLogger.With("component", "audit"))

	// One broker client per environment; the active one follows the
	// stored credential.
	router := kisclient.NewRouter(
		kisclient.NewClient(model.Production, zapLogger),
		kisclient.NewClient(model.Mock, zapLogger),
	)

	tokenManager := token.NewManager(configRepo, tokenRepo, router, zapLogger.With("component", "token-manager"))
	requestPipeline := pipeline.New(configRepo, tokenManager, router, auditRepo, zapLogger.With("component", "pipeline"))
	balanceService := balance.NewService(requestPipeline, configRepo, zapLogger.With("component", "balance"))

	cronScheduler := scheduler.New(zapLogger.With("component", "scheduler"))
	if err := cronScheduler.AddJob(engineCfg.Scheduler.TokenCheckSchedule, scheduler.NewTokenCheckJob(tokenManager, zapLogger)); err != nil {
		zapLogger.Fatalf("%s: can't register token check job", err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	h := handler.New(configRepo, accountRepo, tokenRepo, tokenManager, balanceService, auditRepo, zapLogger.With("component", "handler"))

	s := server.NewHTTPServer(ctx, engineCfg.Port, h.Router())
	zapLogger.Infof("listening on :%s", engineCfg.Port)
	if err := s.Run(ctx); err != nil {
		zapLogger.Errorf("%s: server stopped", err)
	}
}
