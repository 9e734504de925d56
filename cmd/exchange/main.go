// 交易所服务入口：装配配置、日志、数据库、Kafka、引擎与接口层。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/BerkZerker/Market-Sim/internal/exchange/application"
	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
	"github.com/BerkZerker/Market-Sim/internal/exchange/infrastructure/persistence/mysql"
	"github.com/BerkZerker/Market-Sim/internal/exchange/infrastructure/publisher"
	exchange_http "github.com/BerkZerker/Market-Sim/internal/exchange/interfaces/http"
	"github.com/BerkZerker/Market-Sim/internal/exchange/interfaces/ws"
	"github.com/BerkZerker/Market-Sim/pkg/config"
	"github.com/BerkZerker/Market-Sim/pkg/db"
	"github.com/BerkZerker/Market-Sim/pkg/logger"
	"github.com/BerkZerker/Market-Sim/pkg/metrics"
	"github.com/BerkZerker/Market-Sim/pkg/middleware"
	"github.com/BerkZerker/Market-Sim/pkg/mq"
)

const eventTopic = "exchange.events"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/exchange/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	log.Info("starting exchange", "version", cfg.Version, "environment", cfg.Environment)

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		log.Error("connect database failed", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := mysql.AutoMigrate(database.DB); err != nil {
		log.Error("auto migrate failed", "error", err)
		os.Exit(1)
	}
	store := mysql.NewStore(database.DB)

	// Kafka 可选，关闭时事件只走 WebSocket
	var eventPublisher application.EventPublisher
	var producer *mq.KafkaProducer
	if cfg.Kafka.Enabled {
		producer, err = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.Kafka.GroupID,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			log.Error("create kafka producer failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		eventPublisher = publisher.NewKafkaEventPublisher(producer, eventTopic, log)
	}

	engine := domain.NewExchange(log, cfg.Exchange.EventBufferSize)
	defer engine.Close()
	for ticker, price := range cfg.Exchange.Tickers {
		engine.AddMarket(ticker, decimal.NewFromFloat(price))
	}
	log.Info("markets registered", "tickers", engine.Tickers())

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			log.Error("register metrics failed", "error", err)
			os.Exit(1)
		}
		database.SetMetrics(m)
		go func() {
			if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	service := application.NewService(engine, store, eventPublisher, m, log,
		cfg.Exchange.DefaultTimeInForce, decimal.NewFromFloat(cfg.Exchange.StartingCash))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Bootstrap(ctx); err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Close()
	engine.Subscribe(hub.BroadcastTrade)

	var bot *application.LiquidityBot
	if cfg.Bot.Enabled {
		bot = application.NewLiquidityBot(engine, service.Manager, log,
			cfg.Bot.Username,
			time.Duration(cfg.Bot.IntervalMs)*time.Millisecond,
			cfg.Bot.Spread,
			cfg.Bot.MinQuantity,
			cfg.Bot.MaxQuantity,
		)
		if err := bot.Start(ctx); err != nil {
			log.Error("start liquidity bot failed", "error", err)
			os.Exit(1)
		}
		defer bot.Stop()
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(m),
		middleware.GinCORSMiddleware(),
	)
	exchange_http.NewExchangeHandler(service, log).RegisterRoutes(router.Group(""))
	router.GET("/ws", hub.ServeWS)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	// 停机前把全部账户落库
	snapshots := make([]domain.UserSnapshot, 0)
	for _, u := range engine.Users() {
		snapshots = append(snapshots, u.Snapshot())
	}
	if err := store.SaveUsers(shutdownCtx, snapshots); err != nil {
		log.Error("final user sync failed", "error", err)
	}
	log.Info("exchange stopped")
}
