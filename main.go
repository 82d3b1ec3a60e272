package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leafguard/internal/auth"
	"github.com/example/leafguard/internal/classifier"
	"github.com/example/leafguard/internal/config"
	"github.com/example/leafguard/internal/grpcclient"
	"github.com/example/leafguard/internal/handlers"
	"github.com/example/leafguard/internal/imageprocessor"
	"github.com/example/leafguard/internal/logging"
	"github.com/example/leafguard/internal/repository"
	"github.com/example/leafguard/internal/session"
	"github.com/example/leafguard/internal/usecase"
)

func main() {
	cfg, err := config.Load(os.Getenv("LEAFGUARD_CONFIG"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	for _, warning := range cfg.Warnings() {
		logger.Warn("insecure configuration", zap.String("detail", warning))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	model, err := initClassifier(ctx, cfg.Model, logger)
	if err != nil {
		var loadErr *classifier.ModelLoadError
		if errors.As(err, &loadErr) {
			logger.Fatal("failed to load model", zap.String("source", loadErr.Source), zap.Error(loadErr.Err))
		}
		logger.Fatal("failed to initialise classifier", zap.Error(err))
	}
	defer model.Close()

	interp, err := imageprocessor.ParseInterpolation(cfg.Model.Interpolation)
	if err != nil {
		logger.Fatal("invalid interpolation", zap.Error(err))
	}
	preprocessor := imageprocessor.New(cfg.Model.ImageSize, interp).WithMaxPixels(cfg.Model.MaxPixels)

	var cache usecase.ScoreCache = usecase.NopScoreCache{}
	if cfg.Cache.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisScoreCache(initRedis(redisCtx, cfg.Cache.RedisAddr, logger))
	}

	var repo usecase.AnalysisRepository
	if cfg.Database.DSN != "" {
		analysisRepo := repository.NewAnalysisRepository(initDatabase(ctx, cfg.Database.DSN, logger), logger)
		if err := analysisRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = analysisRepo
	} else {
		logger.Info("analysis audit log disabled")
	}

	uc := usecase.NewAnalysisUseCase(model, preprocessor, cache, cfg.Cache.TTL, repo, logger)

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	sessions := session.NewStore(cfg.Session.IdleTTL)
	sessionMiddleware := auth.SessionMiddleware(cfg.Session.Secret, cfg.Session.CookieName, cfg.Session.IdleTTL)

	handlers.RegisterRoutes(r, uc, sessions, sessionMiddleware, logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("leafguard listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", model.ModelID()),
	)
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initClassifier(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (classifier.Classifier, error) {
	if cfg.Backend == "grpc" {
		return grpcclient.DialClassifier(ctx, cfg.GRPCAddr, cfg.Version, cfg.DialTimeout, logger)
	}
	return classifier.NewONNX(classifier.ONNXConfig{
		ModelPath:         cfg.Path,
		MetadataPath:      cfg.MetadataPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		ImageSize:         cfg.ImageSize,
	}, logger)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal, draining requests", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
