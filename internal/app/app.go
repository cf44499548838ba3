package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gradebook_backend/internal/config"
	"gradebook_backend/internal/controller"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/service"
	"gradebook_backend/pkg/cache"
	"gradebook_backend/pkg/configwatcher"
	"gradebook_backend/pkg/database"
	"gradebook_backend/pkg/logger"
	"gradebook_backend/pkg/monitoring"
	"gradebook_backend/pkg/notify"
	"gradebook_backend/pkg/security"
	"gradebook_backend/pkg/storage"
	"gradebook_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	ConfigDir string
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client

	services        *services
	configCallbacks []func(*config.Config)
	tracer          *sdktrace.TracerProvider
}

type repositories struct {
	course    *repository.CourseRepository
	gradebook *repository.GradebookRepository
	quiz      *repository.QuizRepository
	attempt   *repository.QuizAttemptRepository
}

type services struct {
	gradebook  *service.GradebookService
	gradeEntry *service.GradeEntryService
	quiz       *service.QuizService
	attempt    *service.QuizAttemptService
	transcript *service.TranscriptService
}

type controllers struct {
	gradebook  *controller.GradebookController
	grade      *controller.GradeController
	quiz       *controller.QuizController
	transcript *controller.TranscriptController
	health     *controller.HealthController
}

// Deps are the external resources the app runs on. Redis and Storage are
// optional.
type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Storage storage.Provider
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		course:    repository.NewCourseRepository(db),
		gradebook: repository.NewGradebookRepository(db),
		quiz:      repository.NewQuizRepository(db),
		attempt:   repository.NewQuizAttemptRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, deps Deps) *services {
	var (
		gradeCache cache.Cache      = cache.Nop{}
		publisher  notify.Publisher = notify.LogPublisher{}
	)
	if deps.Redis != nil {
		if cfg.Grading.CacheEnabled {
			gradeCache = cache.NewRedisCache(deps.Redis, "gradebook:")
		}
		publisher = notify.NewRedisPublisher(deps.Redis, cfg.Grading.EventChannel)
	}

	s := &services{}
	s.gradebook = service.NewGradebookService(deps.DB, repos.course, repos.gradebook, gradeCache, cfg.Grading.CacheTTL())
	s.gradeEntry = service.NewGradeEntryService(deps.DB, repos.gradebook, s.gradebook, publisher)
	s.quiz = service.NewQuizService(deps.DB, repos.quiz, repos.course, repos.gradebook)
	s.attempt = service.NewQuizAttemptService(deps.DB, repos.quiz, repos.attempt, repos.gradebook, s.gradebook, publisher)
	s.transcript = service.NewTranscriptService(deps.DB, repos.course, deps.Storage)

	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.gradebook.SetCacheTTL(newCfg.Grading.CacheTTL())
		logger.Log.Info("gradebook cache ttl updated", zap.Duration("ttl", newCfg.Grading.CacheTTL()))
	})
	return s
}

func (a *App) initControllers(s *services, deps Deps) *controllers {
	return &controllers{
		gradebook:  controller.NewGradebookController(s.gradebook),
		grade:      controller.NewGradeController(s.gradeEntry),
		quiz:       controller.NewQuizController(s.quiz, s.attempt),
		transcript: controller.NewTranscriptController(s.transcript),
		health:     controller.NewHealthController(deps.DB, deps.Redis),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	if cfg.RateLimit.MaxRequests > 0 {
		window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
		if window <= 0 {
			window = time.Minute
		}
		router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, window))
	}

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New assembles the app on already opened resources.
func New(cfg *config.Config, deps Deps) *App {
	app := &App{
		Config:    cfg,
		ConfigDir: "configs",
		DB:        deps.DB,
		Redis:     deps.Redis,
	}

	repos := app.initRepositories(deps.DB)
	app.services = app.initServices(repos, cfg, deps)
	controllers := app.initControllers(app.services, deps)

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	return app
}

// NewApp opens every resource named by cfg and assembles the app.
func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	deps := Deps{DB: db}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// grading works without redis: no cache, events only logged
		logger.Log.Warn("Redis unavailable, running without cache and event publishing", zap.Error(err))
	} else {
		deps.Redis = rdb
	}

	if cfg.Grading.ArchiveTranscripts {
		provider, err := storage.New(context.Background(), &cfg.Storage)
		if err != nil {
			logger.Log.Fatal("Failed to initialize storage", zap.Error(err))
		}
		deps.Storage = provider
	}

	monitoring.Init()

	app := New(cfg, deps)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("gradebook-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := configwatcher.Watch(watchCtx, a.ConfigDir, a.applyConfig); err != nil {
			logger.Log.Warn("Config watcher not running", zap.Error(err))
		}
	}()

	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
