package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"MusicFlow/cache"
	"MusicFlow/config"
	"MusicFlow/core/auth"
	"MusicFlow/core/clock"
	"MusicFlow/core/pagestate"
	"MusicFlow/core/reset"
	"MusicFlow/core/studio"
	"MusicFlow/db"
	"MusicFlow/logger"
	"MusicFlow/repository"
	"MusicFlow/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

const resetSessionTTL = 15 * time.Minute

// Deps 是处理器依赖的服务
type Deps struct {
	Users      repository.UserRepository
	Profiles   repository.ProfileRepository
	Dashboards repository.DashboardRepository
	Avatars    storage.AvatarStore
	Resets     *reset.Service
	Pages      *pagestate.Pages
	Limiter    cache.Limiter
	Studios    *studio.Manager
	Hub        *studio.Hub
	// Media 提供头像文件，可以为 nil
	Media http.Handler
	Clock clock.Clock
}

// Handler 持有所有 HTTP 处理器
type Handler struct {
	cfg         *config.Config
	users       repository.UserRepository
	profiles    repository.ProfileRepository
	dashboards  repository.DashboardRepository
	avatars     storage.AvatarStore
	resets      *reset.Service
	pages       *pagestate.Pages
	limiter     cache.Limiter
	studios     *studio.Manager
	hub         *studio.Hub
	media       http.Handler
	clock       clock.Clock
	tokens      *auth.Tokens
	resetTokens *auth.Tokens
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	h := &Handler{
		cfg:         cfg,
		users:       d.Users,
		profiles:    d.Profiles,
		dashboards:  d.Dashboards,
		avatars:     d.Avatars,
		resets:      d.Resets,
		pages:       d.Pages,
		limiter:     d.Limiter,
		studios:     d.Studios,
		hub:         d.Hub,
		media:       d.Media,
		clock:       d.Clock,
		tokens:      auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL),
		resetTokens: auth.NewTokens(cfg.JWTSecret+":reset", resetSessionTTL),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigin {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// NewRouter 注册所有路由
func NewRouter(h *Handler) http.Handler {
	router := mux.NewRouter()
	router.Use(h.ClientMiddleware)
	router.Use(h.BodyLimitMiddleware)
	router.Use(h.CSRFMiddleware())

	router.HandleFunc("/api/csrf", h.CSRFHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/success", h.SuccessHandler).Methods(http.MethodGet)

	RegisterAuthRoutes(router, h)
	RegisterResetRoutes(router, h)
	RegisterProfileRoutes(router, h)
	RegisterPageStateRoutes(router, h)
	RegisterStudioRoutes(router, h)

	if h.media != nil {
		router.PathPrefix(mediaPrefix(h.cfg)).Handler(h.media).Methods(http.MethodGet, http.MethodHead)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigin,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodHead},
		AllowedHeaders:   []string{"Content-Type", "Authorization", csrfHeader},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return c.Handler(router)
}

// Start initializes and starts the HTTP server. It blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func Start(cfg *config.Config) error {
	if err := db.ConnectGormDB(cfg); err != nil {
		return err
	}
	defer db.CloseGormDB()
	if err := db.Migrate(); err != nil {
		return err
	}

	realClock := clock.Real()
	users := repository.NewGormUserRepository(db.GormDB)

	var (
		limiter    cache.Limiter
		resetStore reset.Store
		pageStore  pagestate.Store
	)
	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()
		limiter = cache.NewRedisLimiter(cache.RedisClient, cfg.RateLimitAttempts, cfg.RateLimitWindow)
		resetStore = cache.NewResetCache(cache.RedisClient)
		pageStore = cache.NewPageCache(cache.RedisClient)
	} else {
		logger.Warn("[Server] Redis 未启用，使用内存存储")
		limiter = cache.NewMemoryLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow)
		resetStore = reset.NewMemoryStore(realClock)
		pageStore = pagestate.NewMemoryStore()
	}

	minioClient, err := storage.InitMinio(cfg)
	if err != nil {
		return err
	}

	hub := studio.NewHub()
	go hub.Run()
	defer hub.Stop()

	studios := studio.NewManager(studio.Config{
		Clock:         realClock,
		GenerateDelay: cfg.StudioGenerateDelay,
		TickInterval:  cfg.StudioTickInterval,
		IdleTimeout:   cfg.StudioIdleTimeout,
	}, hub)
	studios.Start()
	defer studios.Shutdown()

	resets := reset.NewService(resetStore, users, reset.LogMailer{}, realClock, nil, reset.Config{
		QRTimeout:   cfg.ResetQRTimeout,
		CodeTimeout: cfg.ResetCodeTimeout,
		MaxAttempts: cfg.ResetCodeAttempts,
		BaseURL:     cfg.ResetBaseURL,
	})
	defer resets.Close()

	h := NewHandler(cfg, Deps{
		Users:      users,
		Profiles:   repository.NewGormProfileRepository(db.GormDB),
		Dashboards: repository.NewGormDashboardRepository(db.GormDB),
		Avatars:    storage.NewMinioAvatarStore(minioClient, cfg.MinioBucket, cfg.MinioPublicURL),
		Resets:     resets,
		Pages:      pagestate.New(pageStore, realClock),
		Limiter:    limiter,
		Studios:    studios,
		Hub:        hub,
		Media:      NewMediaHandler(cfg, minioClient),
		Clock:      realClock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.WatchEnvFile {
		err := config.Watch(ctx, cfg.EnvFile, func(next *config.Config) {
			logger.SetLevel(logger.LogLevel(next.LogLevel))
			limiter.SetLimit(next.RateLimitAttempts, next.RateLimitWindow)
			logger.Info("[Config] 配置已重新加载",
				logger.String("logLevel", next.LogLevel),
				logger.Int("rateLimitAttempts", next.RateLimitAttempts),
				logger.Duration("rateLimitWindow", next.RateLimitWindow))
		}, func(err error) {
			logger.Warn("[Config] 配置监听出错", logger.ErrorField(err))
		})
		if err != nil {
			logger.Warn("[Config] 无法监听配置文件", logger.String("file", cfg.EnvFile), logger.ErrorField(err))
		}
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      NewRouter(h),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] 服务启动", logger.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("[Server] 正在关闭服务...")

	// 创建一个5秒超时的上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] 服务已停止")
	return nil
}
