package transact

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StoreNATS    = "nats"
	StoreSQLite  = "sqlite"
	StoreMongoDB = "mongodb"
)

// Notifier backends.
const (
	NotifierNone     = "none"
	NotifierRabbitMQ = "rabbitmq"
	NotifierNATS     = "nats"
)

// ErrInvalidEnvConfig is returned when an EnvConfig names an unknown backend or
// leaves a required setting empty.
var ErrInvalidEnvConfig = errors.New("invalid transact environment config")

// EnvConfig lists every setting Setup reads. Load it with LoadEnvConfig or
// fill it directly.
type EnvConfig struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	StoreBackend string        `env:"TRANSACT_STORE"`
	KeyPrefix    string        `env:"TRANSACT_KEY_PREFIX"`
	RecordTTL    time.Duration `env:"TRANSACT_RECORD_TTL"`

	NotifierBackend string `env:"TRANSACT_NOTIFIER"`
	NotifierChannel string `env:"TRANSACT_NOTIFIER_CHANNEL"`
	NotifierEvent   string `env:"TRANSACT_NOTIFIER_EVENT"`

	// RedisHost is a comma-separated address list.
	RedisHost       string `env:"REDIS_HOST"`
	RedisMasterName string `env:"REDIS_MASTER_NAME"`
	RedisCluster    bool   `env:"REDIS_CLUSTER"`
	RedisPassword   string `env:"REDIS_PASSWORD" json:"-"`
	RedisDB         int    `env:"REDIS_DB"`
	RedisCACert     string `env:"REDIS_CA_CERT"`

	NATSURL           string `env:"NATS_URL"`
	NATSBucket        string `env:"NATS_KV_BUCKET"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX"`
	NATSJetStream     bool   `env:"NATS_JETSTREAM"`

	SQLitePath  string `env:"SQLITE_PATH"`
	SQLiteTable string `env:"SQLITE_TABLE"`

	MongoURI        string `env:"MONGO_URI" json:"-"`
	MongoDatabase   string `env:"MONGO_DATABASE"`
	MongoCollection string `env:"MONGO_COLLECTION"`

	RabbitMQURL      string `env:"RABBITMQ_URL" json:"-"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE"`

	HTTPAddress string `env:"TRANSACT_HTTP_ADDRESS"`
}

// DefaultEnvConfig returns an in-memory store without a notifier.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		EnvName:         "local",
		LogLevel:        "info",
		StoreBackend:    StoreMemory,
		NotifierBackend: NotifierNone,
		HTTPAddress:     ":8080",
	}
}

// LoadEnvConfig overlays the process environment on DefaultEnvConfig.
func LoadEnvConfig() (EnvConfig, error) {
	cfg := DefaultEnvConfig()

	if err := SetConfigFromEnvVars(&cfg); err != nil {
		return EnvConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return EnvConfig{}, err
	}

	return cfg, nil
}

// Validate checks the backend selections and their required settings.
func (cfg EnvConfig) Validate() error {
	switch strings.ToLower(cfg.StoreBackend) {
	case StoreMemory, "":
	case StoreRedis:
		if len(cfg.redisAddresses()) == 0 {
			return envError("REDIS_HOST is required for the redis store")
		}
	case StoreNATS:
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return envError("SQLITE_PATH is required for the sqlite store")
		}
	case StoreMongoDB:
		if strings.TrimSpace(cfg.MongoURI) == "" || strings.TrimSpace(cfg.MongoDatabase) == "" {
			return envError("MONGO_URI and MONGO_DATABASE are required for the mongodb store")
		}
	default:
		return envError(fmt.Sprintf("unknown store backend %q", cfg.StoreBackend))
	}

	switch strings.ToLower(cfg.NotifierBackend) {
	case NotifierNone, "":
	case NotifierRabbitMQ:
		if strings.TrimSpace(cfg.RabbitMQURL) == "" {
			return envError("RABBITMQ_URL is required for the rabbitmq notifier")
		}
	case NotifierNATS:
	default:
		return envError(fmt.Sprintf("unknown notifier backend %q", cfg.NotifierBackend))
	}

	if cfg.RecordTTL < 0 {
		return envError("TRANSACT_RECORD_TTL must not be negative")
	}

	return nil
}

func (cfg EnvConfig) redisAddresses() []string {
	var out []string

	for _, addr := range strings.Split(cfg.RedisHost, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}

	return out
}

func envError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEnvConfig, msg)
}
