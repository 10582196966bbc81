package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/config"
	"github.com/ongniud/medalarm/logger"
	"github.com/ongniud/medalarm/metrics"
	"github.com/ongniud/medalarm/reminder/alarmmanager"
	"github.com/ongniud/medalarm/reminder/backend"
	"github.com/ongniud/medalarm/reminder/push"
	"github.com/ongniud/medalarm/reminder/trigger"
	"github.com/ongniud/medalarm/tracing"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("MEDALARM_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.New(cfg.Log, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Engine.ProfileID == "" {
		log.Fatal("MEDALARM_PROFILE_ID is required")
	}
	log.Info("Starting medalarmd", zap.String("version", version), zap.String("profile_id", cfg.Engine.ProfileID))

	shutdownTracing, err := tracing.NewTracerProvider(cfg.Tracing, cfg.ServiceName, version, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	collector, err := metrics.New(cfg.Metrics.Enabled)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	var metricsServer *http.Server
	if pc, ok := collector.(*metrics.PrometheusCollector); ok {
		mux := http.NewServeMux()
		mux.Handle("/metrics", pc.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	be, closeBackend, err := newBackend(cfg.Backend, log)
	if err != nil {
		log.Fatal("Failed to create backend", zap.Error(err))
	}
	defer closeBackend()

	store, closeStore, err := newTriggerStore(cfg.Trigger)
	if err != nil {
		log.Fatal("Failed to create trigger store", zap.Error(err))
	}
	defer closeStore()

	var storage alarmmanager.Storage = alarmmanager.NewMemoryStorage()
	if cfg.Engine.StateDir != "" {
		if storage, err = alarmmanager.NewFileStorage(cfg.Engine.StateDir); err != nil {
			log.Fatal("Failed to create instance storage", zap.Error(err))
		}
	}

	var (
		notifier   alarmmanager.Notifier = alarmmanager.NewLogNotifier(log)
		mqttClient mqtt.Client
	)
	if cfg.Notifier.Kind == config.NotifierMQTT {
		if mqttClient, err = push.Connect(cfg.Notifier); err != nil {
			log.Fatal("Failed to connect to mqtt broker", zap.Error(err))
		}
		defer mqttClient.Disconnect(250)
		notifier = push.NewMQTTNotifier(mqttClient, cfg.Notifier.TopicPrefix, byte(cfg.Notifier.QoS), log)
	}

	loc, _ := cfg.Engine.Location()
	opts := alarmmanager.DefaultOptions()
	opts.AutoEscalate = cfg.Engine.AutoEscalate
	opts.DefaultRepeatInterval = time.Duration(cfg.Engine.DefaultRepeatInterval) * time.Minute
	opts.SweepInterval = cfg.Engine.SweepInterval
	opts.MissedGrace = cfg.Engine.MissedGrace
	opts.Location = loc
	opts.Logger = log
	opts.Metrics = collector

	manager := alarmmanager.NewAlarmManager(cfg.Engine.ProfileID, be, store, notifier, storage, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := manager.Start(ctx)
	if err != nil {
		log.Fatal("Failed to start alarm manager", zap.Error(err))
	}
	if report.PermissionDenied {
		log.Warn("Notification permission denied, alarms are inert until granted")
	}
	manager.Run(ctx)

	dispatcher := trigger.NewDispatcher(store, manager.HandleFired, cfg.Trigger.PollInterval, log)
	dispatcher.Run(ctx)

	// 设备按钮与同步请求经 MQTT 回传
	var listener *push.ActionListener
	if mqttClient != nil {
		listener = push.NewActionListener(mqttClient, manager, cfg.Notifier.TopicPrefix, cfg.Engine.ProfileID, byte(cfg.Notifier.QoS), log)
		if err := listener.Start(ctx); err != nil {
			log.Fatal("Failed to subscribe to device actions", zap.Error(err))
		}
	}

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	if listener != nil {
		if err := listener.Stop(); err != nil {
			log.Warn("Error unsubscribing from device actions", zap.Error(err))
		}
	}
	dispatcher.Stop()
	manager.Stop()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(stopCtx); err != nil {
			log.Error("Error stopping metrics server", zap.Error(err))
		}
	}
	if err := shutdownTracing(stopCtx); err != nil {
		log.Error("Error stopping tracing", zap.Error(err))
	}
	log.Info("Service stopped")
}

func newBackend(cfg config.BackendConfig, log *zap.Logger) (backend.Backend, func(), error) {
	switch cfg.Kind {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return backend.NewPostgresStore(db, log), func() { db.Close() }, nil
	case config.BackendMemory:
		return backend.NewMemoryBackend(), func() {}, nil
	default:
		return backend.NewRESTClient(cfg.URL, cfg.Timeout, cfg.Retries, log), func() {}, nil
	}
}

type triggerStore interface {
	trigger.Store
	trigger.Firer
}

func newTriggerStore(cfg config.TriggerConfig) (triggerStore, func(), error) {
	quota := trigger.NewQuota(cfg.MaxPending, cfg.ScheduleRate, cfg.ScheduleBurst)
	if cfg.Kind != config.TriggerRedis {
		return trigger.NewMemoryStore(trigger.WithQuota(quota)), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return trigger.NewRedisStore(client, cfg.KeyPrefix, quota), func() { client.Close() }, nil
}
