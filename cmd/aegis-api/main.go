package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/aegis-dev/aegis-api/api/swagger"
	"github.com/aegis-dev/aegis-api/internal/handler"
	"github.com/aegis-dev/aegis-api/internal/middleware"
	"github.com/aegis-dev/aegis-api/internal/models"
	"github.com/aegis-dev/aegis-api/internal/proctor"
	"github.com/aegis-dev/aegis-api/internal/repository"
	"github.com/aegis-dev/aegis-api/internal/service"
	"github.com/aegis-dev/aegis-api/pkg/cache"
	"github.com/aegis-dev/aegis-api/pkg/config"
	"github.com/aegis-dev/aegis-api/pkg/database"
	"github.com/aegis-dev/aegis-api/pkg/logger"
	corsmiddleware "github.com/aegis-dev/aegis-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aegis-dev/aegis-api/pkg/middleware/requestid"
	"github.com/aegis-dev/aegis-api/pkg/storage"
)

// @title Aegis API
// @version 1.0.0
// @description Timed technical interview exams with proctoring and subscriptions
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var statusCache *service.RedisStatusCache
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, subscription cache disabled", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
		statusCache = service.NewRedisStatusCache(redisClient)
	}

	recordings, err := storage.NewLocalStorage(cfg.Recordings.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare recording storage", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	examRepo := repository.NewExamRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	var subscriptionCache service.StatusCache
	if statusCache != nil {
		subscriptionCache = statusCache
	}
	subSvc := service.NewSubscriptionService(subRepo, subscriptionCache, logr, cfg.Exam.SubscriptionCacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		simulated *proctor.Simulated
		ingestor  *proctor.Ingestor
	)
	if cfg.Proctor.Simulated {
		simulated = proctor.NewSimulated(cfg.Proctor.EmitInterval, cfg.Proctor.EventBuffer)
		ingestor = proctor.NewIngestor(simulated, examRepo, metricsSvc, logr, proctor.IngestorConfig{
			Workers:    cfg.Proctor.QueueWorkers,
			BufferSize: cfg.Proctor.EventBuffer,
		})
		ingestor.Start(ctx)
	}

	examCfg := service.ExamServiceConfig{
		QuestionCount:    cfg.Exam.QuestionCount,
		MinDifficulty:    cfg.Exam.MinDifficulty,
		MaxDifficulty:    cfg.Exam.MaxDifficulty,
		MaxRecordingSize: cfg.Recordings.MaxFileSizeBytes,
	}
	var examSvc *service.ExamService
	if simulated != nil {
		examSvc = service.NewExamService(examRepo, questionRepo, recordings, userRepo, simulated, metricsSvc, logr, examCfg)
	} else {
		examSvc = service.NewExamService(examRepo, questionRepo, recordings, userRepo, nil, metricsSvc, logr, examCfg)
	}

	var checkout *service.BillingService
	billingCfg := service.BillingConfig{
		Enabled:        cfg.Billing.Enabled,
		WebhookSecret:  cfg.Billing.WebhookSecret,
		PriceBasic:     cfg.Billing.PriceBasic,
		PricePro:       cfg.Billing.PricePro,
		PricePremium:   cfg.Billing.PricePremium,
		SuccessURL:     cfg.Billing.SuccessURL,
		CancelURL:      cfg.Billing.CancelURL,
		RequestTimeout: cfg.Billing.RequestTimeout,
	}
	if cfg.Billing.Enabled {
		stripeClient := service.NewStripeClient(cfg.Billing.SecretKey)
		checkout = service.NewBillingService(subRepo, stripeClient.CheckoutSessions, subSvc, metricsSvc, logr, billingCfg)
	} else {
		logr.Info("billing disabled: stripe keys not configured")
		checkout = service.NewBillingService(subRepo, nil, subSvc, metricsSvc, logr, billingCfg)
	}

	var completer *service.QuestionService
	genCfg := service.QuestionGenConfig{
		Enabled:        cfg.QuestionGen.Enabled,
		Model:          cfg.QuestionGen.Model,
		RequestTimeout: cfg.QuestionGen.RequestTimeout,
	}
	if cfg.QuestionGen.Enabled {
		completer = service.NewQuestionService(questionRepo, service.NewOpenAIClient(cfg.QuestionGen.APIKey, cfg.QuestionGen.BaseURL), validate, metricsSvc, logr, genCfg)
	} else {
		logr.Info("question generation disabled: no provider API key configured")
		completer = service.NewQuestionService(questionRepo, nil, validate, metricsSvc, logr, genCfg)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	examHandler := handler.NewExamHandler(examSvc)
	billingHandler := handler.NewBillingHandler(checkout)
	questionHandler := handler.NewQuestionHandler(completer)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/verify-token", middleware.JWT(authSvc), authHandler.Verify)
		auth.GET("/profile", middleware.JWT(authSvc), authHandler.Profile)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	exam := api.Group("/exam", middleware.JWT(authSvc), middleware.RequireSubscription(subSvc))
	{
		exam.POST("/initialize", examHandler.Initialize)
		exam.GET("/:sessionId/next", examHandler.Next)
		exam.POST("/:sessionId/answer", examHandler.Answer)
		exam.POST("/:sessionId/recording", examHandler.Recording)
		exam.GET("/:sessionId/recording", examHandler.GetRecording)
		exam.POST("/:sessionId/finalize", examHandler.Finalize)
		exam.GET("/:sessionId/report", examHandler.Report)
	}

	billing := api.Group("/billing")
	{
		billing.POST("/checkout", middleware.JWT(authSvc), billingHandler.Checkout)
		billing.POST("/webhook", billingHandler.Webhook)
	}

	questions := api.Group("/questions", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		questions.POST("/generate", questionHandler.Generate)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	if ingestor != nil {
		ingestor.Stop()
	}
}
