package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置（报警事件审计存储，可选）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Enabled  bool
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置（床旁设备接入，可选）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Enabled  bool
}

// Config 监护引擎服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	Engine struct {
		PolicyFile  string // 阈值策略 YAML 文件路径（为空则使用内置默认策略）
		QueueSize   int    // 每床样本队列容量
		HistorySize int    // 每床滚动历史样本数

		StaleAfterSec    int // 床位静默阈值（秒）
		SweepIntervalSec int // 过期扫描周期（秒）
		EventBuffer      int // 事件回放缓冲大小

		// 未确认报警超时（秒）
		AdvisoryExpirySec  int
		WarningExpirySec   int
		CriticalOverdueSec int
	}

	Feed struct {
		// Redis Streams 样本流配置
		Stream        string
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	Cache struct {
		// CNS 快照缓存键，如 "cns:snapshot"
		SnapshotKey string
		BedPrefix   string // 单床快照键前缀，如 "cns:bed:"
		TTLSec      int
		IntervalSec int // 快照写入周期（秒）
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "skanray")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "skanray-cns")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "devices/+/vitals")
	cfg.MQTT.QoS = 1
	cfg.MQTT.Enabled = cfg.MQTT.Broker != ""

	cfg.Engine.PolicyFile = getEnv("POLICY_FILE", "")
	cfg.Engine.QueueSize = getEnvInt("BED_QUEUE_SIZE", 64)
	cfg.Engine.HistorySize = getEnvInt("BED_HISTORY_SIZE", 32)
	cfg.Engine.StaleAfterSec = getEnvInt("STALE_AFTER_SEC", 30)
	cfg.Engine.SweepIntervalSec = getEnvInt("SWEEP_INTERVAL_SEC", 10)
	cfg.Engine.EventBuffer = getEnvInt("EVENT_BUFFER", 256)
	cfg.Engine.AdvisoryExpirySec = getEnvInt("ADVISORY_EXPIRY_SEC", 600)
	cfg.Engine.WarningExpirySec = getEnvInt("WARNING_EXPIRY_SEC", 1800)
	cfg.Engine.CriticalOverdueSec = getEnvInt("CRITICAL_OVERDUE_SEC", 120)

	cfg.Feed.Stream = getEnv("FEED_STREAM", "vitals:stream")
	cfg.Feed.ConsumerGroup = getEnv("FEED_CONSUMER_GROUP", "cns-engine-group")
	cfg.Feed.ConsumerName = getEnv("FEED_CONSUMER_NAME", "cns-engine-1")
	cfg.Feed.BatchSize = int64(getEnvInt("FEED_BATCH_SIZE", 10))

	cfg.Cache.SnapshotKey = getEnv("CACHE_SNAPSHOT_KEY", "cns:snapshot")
	cfg.Cache.BedPrefix = getEnv("CACHE_BED_PREFIX", "cns:bed:")
	cfg.Cache.TTLSec = getEnvInt("CACHE_TTL_SEC", 30)
	cfg.Cache.IntervalSec = getEnvInt("CACHE_INTERVAL_SEC", 5)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// StaleAfter 床位静默阈值
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Engine.StaleAfterSec) * time.Second
}

// SweepInterval 过期扫描周期
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Engine.SweepIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
