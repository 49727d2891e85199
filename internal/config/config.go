package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"udite-analyzer/common/config"
)

// Config 分析服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 分析服务特定配置
	Analyzer struct {
		SchemaFile  string // 类别声明 YAML 路径，为空时使用内置默认配置
		TopicPrefix string // MQTT 主题前缀，如 "UDiTE/city"

		// Redis Streams 镜像
		Streams struct {
			Events string // 有效事件流，如 "udite:events:stream"
			Alerts string // 报警流，如 "udite:alerts:stream"
			MaxLen int64  // 近似裁剪长度
		}

		// 最近报警缓存
		AlertCache struct {
			KeyPrefix  string // 如 "udite:alerts:"
			TTL        int    // 秒，默认 300
			MaxEntries int    // 每个传感器保留的报警条数
		}

		MetricsAddr string // Prometheus 监听地址，为空时不启动
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "udite"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "udite-analyzer"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Timeout = 5 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Analyzer.SchemaFile = getEnv("ANALYZER_SCHEMA_FILE", "")
	cfg.Analyzer.TopicPrefix = strings.TrimSuffix(getEnv("ANALYZER_TOPIC_PREFIX", "UDiTE/city"), "/")
	cfg.Analyzer.Streams.Events = getEnv("ANALYZER_EVENT_STREAM", "udite:events:stream")
	cfg.Analyzer.Streams.Alerts = getEnv("ANALYZER_ALERT_STREAM", "udite:alerts:stream")
	cfg.Analyzer.Streams.MaxLen = int64(getEnvInt("ANALYZER_STREAM_MAXLEN", 10000))
	cfg.Analyzer.AlertCache.KeyPrefix = getEnv("ANALYZER_ALERT_CACHE_PREFIX", "udite:alerts:")
	cfg.Analyzer.AlertCache.TTL = getEnvInt("ANALYZER_ALERT_CACHE_TTL", 300)
	cfg.Analyzer.AlertCache.MaxEntries = getEnvInt("ANALYZER_ALERT_CACHE_MAX", 20)
	cfg.Analyzer.MetricsAddr = os.Getenv("ANALYZER_METRICS_ADDR")
	if _, set := os.LookupEnv("ANALYZER_METRICS_ADDR"); !set {
		cfg.Analyzer.MetricsAddr = ":9102"
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// InboundTopic 传感器数据主题：<prefix>/data/get/<suffix>
func (c *Config) InboundTopic(suffix string) string {
	return c.Analyzer.TopicPrefix + "/data/get/" + suffix
}

// OutboundTopic 校验后的转发主题：<prefix>/data/post/<suffix>
func (c *Config) OutboundTopic(suffix string) string {
	return c.Analyzer.TopicPrefix + "/data/post/" + suffix
}

// AlertTopic 报警主题：<prefix>/alert
func (c *Config) AlertTopic() string {
	return c.Analyzer.TopicPrefix + "/alert"
}

// AlertCacheTTL 报警缓存 TTL
func (c *Config) AlertCacheTTL() time.Duration {
	return time.Duration(c.Analyzer.AlertCache.TTL) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
