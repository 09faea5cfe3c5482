package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"taskmanager/docs" // swagger docs
	"taskmanager/internal/auth"
	"taskmanager/internal/cache"
	"taskmanager/internal/config"
	"taskmanager/internal/db"
	"taskmanager/internal/handler"
	"taskmanager/internal/logger"
	"taskmanager/internal/repository"
	"taskmanager/internal/router"
	"taskmanager/internal/service"
)

const shutdownTimeout = 30 * time.Second

// @title Task Manager API
// @version 1.0
// @description Task management API with credential and OAuth login, JWT authentication and owner-scoped tasks.
// @host localhost:8080
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.LogDevelopment); err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, err := db.Open(cfg)
	if err != nil {
		logger.Logger.Fatal("database init", zap.Error(err))
	}
	if err := db.Migrate(gormDB, cfg.ResetDB); err != nil {
		logger.Logger.Fatal("database migrate", zap.Error(err))
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := cacheClient.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, continuing without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancel()

	// Initialize repositories
	userRepo := repository.NewUserRepository(gormDB)
	taskRepo := repository.NewTaskRepository(gormDB)

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenExpire)
	hasher := auth.NewPasswordHasher()
	stateStore := auth.NewStateStore(cacheClient)
	providers := auth.NewOAuthProviders(
		auth.GoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BaseURL),
		auth.GitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.BaseURL),
	)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtService, hasher)
	userService := service.NewUserService(userRepo, cacheClient)
	taskService := service.NewTaskService(taskRepo, cacheClient)

	e := echo.New()
	e.HideBanner = true

	// Register routes
	router.Register(
		e,
		cfg,
		jwtService,
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService),
		handler.NewTaskHandler(taskService),
		handler.NewOAuthHandler(providers, stateStore, authService, cfg.FrontendURL),
	)

	if cfg.SwaggerHost != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(cfg.SwaggerHost, "https://"), "http://")
		docs.SwaggerInfo.Host = host
	}
	logger.Info("swagger documentation available", zap.String("url", swaggerURL(cfg)))
	logger.Info("oauth providers enabled", zap.Int("count", providers.Len()))

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Fatal("server start", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// Connections close only after in-flight requests have drained.
			"http-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				shutdownErr := e.Shutdown(ctx)
				if err := db.Close(gormDB); err != nil {
					logger.Error("close database", err)
				}
				if err := cacheClient.Close(); err != nil {
					logger.Error("close redis", err)
				}
				return shutdownErr
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", zap.Int("code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}

func swaggerURL(cfg *config.Config) string {
	if cfg.SwaggerHost == "" {
		return strings.TrimRight(cfg.BaseURL, "/") + "/swagger/index.html"
	}
	host := cfg.SwaggerHost
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/") + "/swagger/index.html"
}
