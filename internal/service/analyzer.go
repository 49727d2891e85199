package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"udite-analyzer/common/database"
	mqttcommon "udite-analyzer/common/mqtt"
	rediscommon "udite-analyzer/common/redis"
	"udite-analyzer/internal/config"
	"udite-analyzer/internal/consumer"
	"udite-analyzer/internal/engine"
	"udite-analyzer/internal/evaluator"
	"udite-analyzer/internal/metrics"
	"udite-analyzer/internal/models"
	"udite-analyzer/internal/publisher"
	"udite-analyzer/internal/repository"
	"udite-analyzer/internal/schema"
	"udite-analyzer/internal/window"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// AnalyzerService 分析服务（整合各层）
type AnalyzerService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	registry      *schema.Registry
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	engine        *engine.Engine
	eventsRepo    *repository.SensorEventsRepository
	alertsRepo    *repository.AlertEventsRepository
	alertCache    *consumer.AlertCache
	publisher     *publisher.Publisher
	mqttConsumer  *consumer.MQTTConsumer
}

// NewAnalyzerService 创建分析服务
func NewAnalyzerService(cfg *config.Config, logger *zap.Logger) (*AnalyzerService, error) {
	// 1. 加载类别声明
	registry, err := LoadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// 2. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 3. 连接 Redis
	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	// 4. 连接 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		_ = multierr.Combine(db.Close(), redisClient.Close())
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// 5. 创建核心：窗口 → 评估器 → 引擎
	m := metrics.New()
	store := window.NewStore(registry.WindowCapacity(), window.WithEvictHandler(func(string, string, *models.SensorEvent) {
		m.WindowEvictions.Inc()
	}))
	eng := engine.New(registry, store, evaluator.New(logger), logger)

	// 6. 创建 Repository 层与下游协作方
	eventsRepo := repository.NewSensorEventsRepository(db, registry, logger)
	alertsRepo := repository.NewAlertEventsRepository(db, logger)
	alertCache := consumer.NewAlertCache(cfg, redisClient, logger)
	pub := publisher.NewPublisher(mqttClient, redisClient, cfg, publisher.Options{
		QoS:          cfg.MQTT.QoS,
		EventStream:  cfg.Analyzer.Streams.Events,
		AlertStream:  cfg.Analyzer.Streams.Alerts,
		StreamMaxLen: cfg.Analyzer.Streams.MaxLen,
	}, logger)

	// 7. 创建 MQTT 消费者
	mqttConsumer := consumer.NewMQTTConsumer(cfg, registry, eng, mqttClient, consumer.Sinks{
		Publisher: pub,
		Events:    eventsRepo,
		Alerts:    alertsRepo,
		Cache:     alertCache,
	}, m, logger)

	s := &AnalyzerService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		registry:     registry,
		metrics:      m,
		engine:       eng,
		eventsRepo:   eventsRepo,
		alertsRepo:   alertsRepo,
		alertCache:   alertCache,
		publisher:    pub,
		mqttConsumer: mqttConsumer,
	}
	if cfg.Analyzer.MetricsAddr != "" {
		s.metricsServer = metrics.NewServer(cfg.Analyzer.MetricsAddr, m, logger)
	}
	return s, nil
}

// LoadRegistry 从配置的 YAML 文件加载类别声明，未配置时使用内置默认配置
func LoadRegistry(cfg *config.Config) (*schema.Registry, error) {
	var (
		registry *schema.Registry
		err      error
	)
	if cfg.Analyzer.SchemaFile != "" {
		registry, err = schema.LoadFile(cfg.Analyzer.SchemaFile)
	} else {
		registry, err = schema.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema registry: %w", err)
	}
	return registry, nil
}

// Start 启动服务：建表、启动指标服务、订阅传感器主题
func (s *AnalyzerService) Start(ctx context.Context) error {
	categories := make([]string, 0)
	for _, cs := range s.registry.Categories() {
		categories = append(categories, cs.Name)
	}
	s.logger.Info("Starting analyzer service",
		zap.Strings("categories", categories),
		zap.Int("window_capacity", s.registry.WindowCapacity()),
		zap.String("topic_prefix", s.config.Analyzer.TopicPrefix),
	)

	if err := s.eventsRepo.EnsureTables(ctx); err != nil {
		return fmt.Errorf("failed to prepare sensor tables: %w", err)
	}
	if err := s.alertsRepo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to prepare alert table: %w", err)
	}

	if s.metricsServer != nil {
		s.metricsServer.Start()
	}

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *AnalyzerService) Stop() error {
	s.logger.Info("Stopping analyzer service")

	var errs error
	errs = multierr.Append(errs, s.mqttConsumer.Stop())
	s.mqttClient.Disconnect()

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = multierr.Append(errs, s.metricsServer.Stop(ctx))
		cancel()
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	// 关闭 Redis 连接
	if err := s.redisClient.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to close redis: %w", err))
	}

	if errs != nil {
		s.logger.Error("Analyzer service stopped with errors", zap.Error(errs))
	}
	return errs
}
