package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/mistborn/internal/api"
	"github.com/annel0/mistborn/internal/auth"
	"github.com/annel0/mistborn/internal/config"
	"github.com/annel0/mistborn/internal/effects"
	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/metrics"
	"github.com/annel0/mistborn/internal/network"
	"github.com/annel0/mistborn/internal/observability"
	"github.com/annel0/mistborn/internal/replication"
	"github.com/annel0/mistborn/internal/sim"
	"github.com/annel0/mistborn/internal/storage"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию GAME_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(*configPath); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(configPath string) error {
	logging.Info("🔥 Запуск сервера алломантии %s...", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	level, err := cfg.Logging.ConsoleLevel()
	if err != nil {
		return err
	}
	logging.GetLoggerManager().Configure(level, cfg.Logging.Files)
	defer logging.GetLoggerManager().CloseAll()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.Options{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("ошибка инициализации OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
		}
	}()

	// === ХРАНИЛИЩЕ ===
	repo, err := storage.Open(cfg.Storage.Backend, cfg.Storage.BadgerPath, cfg.Storage.GetMariaDSN())
	if err != nil {
		return fmt.Errorf("ошибка открытия хранилища: %w", err)
	}
	defer repo.Close()
	logging.Info("💾 Хранилище состояний: %s", cfg.Storage.Backend)

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			return fmt.Errorf("ошибка подключения к JetStream: %w", err)
		}
		bus = jsBus
		logging.Info("📨 EventBus: JetStream %s (stream %s)", cfg.EventBus.URL, cfg.EventBus.Stream)
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("📨 EventBus: в памяти")
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(ctx, bus, logging.GetComponentLogger("eventbus")); err != nil {
		logging.Warn("⚠️ Не удалось запустить LoggingListener: %v", err)
	}

	reg := prometheus.DefaultRegisterer
	busMetrics := eventbus.NewMetricsExporter(bus, reg)
	busMetrics.Start()
	defer busMetrics.Stop()

	// === РЕПЛИКАЦИЯ ===
	var viewCache replication.ViewCache
	if cfg.Redis.Enabled {
		redisCfg := replication.DefaultRedisConfig()
		redisCfg.Addr = cfg.Redis.GetAddr()
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		redisCfg.TTL = time.Duration(cfg.Redis.TTLSeconds) * time.Second
		redisCache, err := replication.NewRedisViewCache(redisCfg)
		if err != nil {
			return fmt.Errorf("ошибка подключения к Redis: %w", err)
		}
		// закрывается вместе с replicator
		viewCache = redisCache
	}

	replicator, err := replication.NewReplicator(ctx, replication.Config{
		RegionID:   cfg.Sync.RegionID,
		Bus:        bus,
		Cache:      viewCache,
		BatchSize:  cfg.Sync.BatchSize,
		FlushEvery: cfg.Sync.FlushEvery(),
		Codec:      cfg.Sync.Codec,
		Logger:     logging.GetSyncLogger(),
	})
	if err != nil {
		return fmt.Errorf("ошибка запуска репликации: %w", err)
	}
	defer func() {
		if err := replicator.Stop(); err != nil {
			logging.Warn("⚠️ Ошибка остановки репликации: %v", err)
		}
	}()

	// === СИМУЛЯЦИЯ ===
	opts := sim.DefaultOptions()
	opts.TickInterval = cfg.Sim.TickInterval()
	opts.Seed = cfg.Sim.Seed
	opts.QueueSize = cfg.Sim.CommandQueueSize
	opts.AutosaveEvery = cfg.Sim.AutosaveInterval()
	opts.MaxHealth = cfg.Sim.MaxHealth
	opts.Engine = effects.Config{
		PushThrottleTicks: cfg.Sim.PushThrottleTicks,
		PewterSpeedBonus:  cfg.Sim.PewterSpeedBonus,
		PewterFlareHeal:   cfg.Sim.PewterFlareHeal,
	}
	opts.Repo = repo
	opts.Replicator = replicator
	opts.Bus = bus
	opts.Metrics = metrics.NewSimMetrics(reg)
	opts.Tracer = observability.Tracer()
	opts.Region = cfg.Sync.RegionID
	simulation := sim.New(opts)

	// === ИГРОВОЙ СЕРВЕР ===
	gameServer := network.NewServer(network.Config{
		Transport: cfg.Server.GetTransport(),
		Addr:      cfg.Server.GetGameAddr(),
		Metrics:   network.NewMetrics(reg),
	}, simulation)
	simulation.SetOutbox(gameServer)
	if err := gameServer.Start(); err != nil {
		return fmt.Errorf("ошибка запуска игрового сервера: %w", err)
	}
	defer gameServer.Stop()

	// === REST API ===
	restPort := cfg.Server.GetRESTPort()
	secret, err := cfg.Auth.Secret()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации JWT: %w", err)
	}
	tokens, err := auth.NewTokenIssuer(secret, 0)
	if err != nil {
		return fmt.Errorf("ошибка конфигурации JWT: %w", err)
	}
	restServer := api.NewRestServer(api.Config{
		Addr:       fmt.Sprintf(":%d", restPort),
		Version:    version,
		Sim:        simulation,
		Views:      replicator,
		Tokens:     tokens,
		Registerer: reg,
		Gatherer:   prometheus.DefaultGatherer,
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
			cancel()
		}
	}()

	// Отдельный порт метрик, если он не совпадает с REST
	var metricsServer *http.Server
	if metricsPort := cfg.Server.GetMetricsPort(); metricsPort != restPort {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", metricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info("📈 Prometheus метрики на :%d/metrics", metricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("❌ Ошибка сервера метрик: %v", err)
			}
		}()
	}

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Игровой трафик: %s %s", cfg.Server.GetTransport(), gameServer.Addr())
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   🌍 Регион: %s, %d тиков/с", cfg.Sync.RegionID, cfg.Sim.TickRateHz)

	// Run сохраняет всех игроков при отмене контекста
	if err := simulation.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("симуляция остановлена с ошибкой: %w", err)
	}

	// === GRACEFUL SHUTDOWN ===
	logging.Info("📡 Получен сигнал завершения, остановка сервисов...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	replicator.Flush(shutdownCtx)
	return nil
}
