package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	httpHandler "github.com/BhavanK18/Whiteboard/internal/handler/http"
	wsHandler "github.com/BhavanK18/Whiteboard/internal/handler/websocket"
	"github.com/BhavanK18/Whiteboard/internal/hub"
	gormpersistence "github.com/BhavanK18/Whiteboard/internal/infra/persistence/gorm"
	memorypersistence "github.com/BhavanK18/Whiteboard/internal/infra/persistence/memory"
	mongopersistence "github.com/BhavanK18/Whiteboard/internal/infra/persistence/mongo"
	"github.com/BhavanK18/Whiteboard/internal/infra/setup"
	"github.com/BhavanK18/Whiteboard/internal/metrics"
	"github.com/BhavanK18/Whiteboard/internal/middleware"
	"github.com/BhavanK18/Whiteboard/internal/repository"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

// App 持有应用的所有核心组件
type App struct {
	Config      *Config
	Log         *logrus.Logger
	Store       *Store
	RedisClient *redis.Client
	Hub         *hub.Hub
	Metrics     *prometheus.Registry
	HttpServer  *http.Server
}

// Store 是按 STORE_DRIVER 选出的会话存储及其底层连接。
type Store struct {
	Driver      string
	Sessions    repository.SessionRepository
	DB          *gorm.DB
	MongoClient *mongo.Client
}

// Close 释放存储连接。
func (s *Store) Close(ctx context.Context) error {
	if s.MongoClient != nil {
		if err := s.MongoClient.Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to disconnect MongoDB: %w", err)
		}
	}
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close MySQL: %w", err)
		}
	}
	return nil
}

// OpenStore 连接配置的会话存储；migrate 为 true 时同时创建表结构或索引。
func OpenStore(cfg *Config, migrate bool) (*Store, error) {
	switch cfg.StoreDriver {
	case DriverMySQL:
		db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if migrate {
			if err := setup.MigrateDB(db); err != nil {
				return nil, fmt.Errorf("failed to migrate DB: %w", err)
			}
		}
		return &Store{Driver: DriverMySQL, Sessions: gormpersistence.NewGormSessionRepository(db), DB: db}, nil

	case DriverMongo:
		client, database, err := setup.InitMongo(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to init MongoDB: %w", err)
		}
		repo := mongopersistence.NewMongoSessionRepository(database)
		if migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := repo.EnsureIndexes(ctx); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("failed to ensure MongoDB indexes: %w", err)
			}
		}
		return &Store{Driver: DriverMongo, Sessions: repo, MongoClient: client}, nil

	default:
		logrus.Warn("Using in-memory session store, sessions will not survive a restart")
		return &Store{Driver: DriverMemory, Sessions: memorypersistence.NewSessionRepository()}, nil
	}
}

// NewLogger 按配置初始化标准 logrus Logger：生产环境用 JSON，其它环境用彩色文本。
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	return log
}

// NewApp 初始化并组装应用的所有组件。
func NewApp(cfg *Config) (*App, error) {
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s)", log.GetLevel())

	log.Info("Initializing infrastructure...")
	store, err := OpenStore(cfg, true)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", store.Driver).Info("Session store initialized")

	var redisClient *redis.Client
	if cfg.RateLimitEnabled() {
		redisClient, err = setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = store.Close(context.Background())
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
	} else {
		log.Info("REDIS_ADDR not set, rate limiting disabled")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(promRegistry)

	log.Info("Initializing services...")
	registry := hub.NewRegistry(appMetrics)
	sessionService := service.NewSessionService(
		store.Sessions,
		service.NewCodeGenerator(store.Sessions, nil),
		registry,
		appMetrics,
		service.SessionServiceConfig{
			FrontendURL:  cfg.FrontendURL,
			SessionTTL:   cfg.SessionTTL,
			StoreTimeout: cfg.StoreTimeout,
		},
	)
	hubInstance := hub.NewHub(sessionService, registry, appMetrics)

	sessionHandler := httpHandler.NewSessionHandler(sessionService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin)

	router := newRouter(cfg, log, redisClient, promRegistry, sessionHandler, websocketHandler)

	return &App{
		Config:      cfg,
		Log:         log,
		Store:       store,
		RedisClient: redisClient,
		Hub:         hubInstance,
		Metrics:     promRegistry,
		HttpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newRouter(
	cfg *Config,
	log *logrus.Logger,
	redisClient *redis.Client,
	promRegistry *prometheus.Registry,
	sessionHandler *httpHandler.SessionHandler,
	websocketHandler *wsHandler.WebSocketHandler,
) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": cfg.StoreDriver})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	api := router.Group("/api/sessions")
	if redisClient != nil {
		api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	}
	api.Use(middleware.OptionalAuth(cfg.JWTSecret))
	sessionHandler.RegisterRoutes(api)

	router.GET("/ws", websocketHandler.HandleConnection)
	return router
}

// Start 在后台启动 HTTP 服务器。
func (a *App) Start() {
	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用：先停止 HTTP 服务，再断开 WebSocket 连接，最后释放 Redis 和存储。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// http.Server.Shutdown 不会关闭已升级的 WebSocket 连接，需要由 Hub 关闭。
	// 关闭模式下只清空房间登记，不停用会话，重启后客户端可以重新加入。
	if a.Hub != nil {
		a.Hub.CloseAll()
		time.Sleep(500 * time.Millisecond)
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(ctx); err != nil {
			a.Log.Errorf("Error closing session store: %v", err)
		}
	}
	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 记录每个请求，日志级别由状态码决定。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

// CORSMiddleware 设置 CORS 响应头并直接响应预检请求。
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		if allowedOrigin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
