package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Topics  TopicsConfig
	Sink    SinkConfig
	GCP     GCPConfig
	PubSub  PubSubConfig
	Sync    SyncConfig
	Mapping MappingConfig
	Ops     OpsConfig
}

var validate = validator.New()

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules envconfig cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if c.Sync.CacheBackend == CacheBackendRedis && c.Redis.URL == "" && c.Redis.Address == "" {
		return fmt.Errorf("%s or %s is required when %s=%s", EnvRedisURL, EnvRedisAddr, EnvSyncCacheBackend, CacheBackendRedis)
	}
	if c.Sink.Kind == SinkKindPubSub && strings.TrimSpace(c.GCP.ProjectID) == "" {
		return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvSinkKind, SinkKindPubSub)
	}
	if strings.EqualFold(c.Topics.SourceA, c.Topics.SourceB) {
		return fmt.Errorf("%s and %s must differ", EnvTopicSourceA, EnvTopicSourceB)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"SCHEMABRIDGE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"SCHEMABRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SCHEMABRIDGE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SCHEMABRIDGE_LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind       string `envconfig:"SCHEMABRIDGE_SERVICE_KIND" default:"schemabridge"`
	InstanceID string `envconfig:"SCHEMABRIDGE_INSTANCE_ID" default:"schemabridge-0"`
}

type DBConfig struct {
	DSN         string `envconfig:"SCHEMABRIDGE_DB_DSN"`
	Driver      string `envconfig:"SCHEMABRIDGE_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	AutoMigrate bool   `envconfig:"SCHEMABRIDGE_DB_AUTO_MIGRATE" default:"false"`

	LegacyHost     string `envconfig:"SCHEMABRIDGE_DB_HOST"`
	LegacyPort     int    `envconfig:"SCHEMABRIDGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SCHEMABRIDGE_DB_USER"`
	LegacyPassword string `envconfig:"SCHEMABRIDGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SCHEMABRIDGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SCHEMABRIDGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SCHEMABRIDGE_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"SCHEMABRIDGE_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"SCHEMABRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SCHEMABRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SCHEMABRIDGE_REDIS_URL"`
	Address      string        `envconfig:"SCHEMABRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"SCHEMABRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SCHEMABRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SCHEMABRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SCHEMABRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SCHEMABRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SCHEMABRIDGE_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"SCHEMABRIDGE_REDIS_WRITE_TIMEOUT" default:"2s"`
}

type KafkaConfig struct {
	Brokers           []string      `envconfig:"SCHEMABRIDGE_KAFKA_BROKERS" required:"true" validate:"min=1"`
	ConsumerGroup     string        `envconfig:"SCHEMABRIDGE_KAFKA_CONSUMER_GROUP" default:"schemabridge"`
	MinBytes          int           `envconfig:"SCHEMABRIDGE_KAFKA_MIN_BYTES" default:"1"`
	MaxBytes          int           `envconfig:"SCHEMABRIDGE_KAFKA_MAX_BYTES" default:"10485760"`
	MaxWait           time.Duration `envconfig:"SCHEMABRIDGE_KAFKA_MAX_WAIT" default:"250ms"`
	QueueCapacity     int           `envconfig:"SCHEMABRIDGE_KAFKA_QUEUE_CAPACITY" default:"256"`
	SessionTimeout    time.Duration `envconfig:"SCHEMABRIDGE_KAFKA_SESSION_TIMEOUT" default:"30s"`
	HeartbeatInterval time.Duration `envconfig:"SCHEMABRIDGE_KAFKA_HEARTBEAT_INTERVAL" default:"3s"`
	WriteTimeout      time.Duration `envconfig:"SCHEMABRIDGE_KAFKA_WRITE_TIMEOUT" default:"10s"`
	DialTimeout       time.Duration `envconfig:"SCHEMABRIDGE_KAFKA_DIAL_TIMEOUT" default:"5s"`
	TopicPartitions   int           `envconfig:"SCHEMABRIDGE_KAFKA_TOPIC_PARTITIONS" default:"3" validate:"gt=0"`
	EnsureTopics      bool          `envconfig:"SCHEMABRIDGE_KAFKA_ENSURE_TOPICS" default:"true"`
}

// TopicsConfig names the CDC source topics (one per direction), the shared
// buffer topic the relays republish into, and the resolved-topic prefix.
type TopicsConfig struct {
	SourceA           string `envconfig:"SCHEMABRIDGE_TOPIC_SOURCE_A" required:"true"`
	SourceB           string `envconfig:"SCHEMABRIDGE_TOPIC_SOURCE_B" required:"true"`
	Buffer            string `envconfig:"SCHEMABRIDGE_TOPIC_BUFFER" default:"schemabridge.buffer"`
	DestinationPrefix string `envconfig:"SCHEMABRIDGE_TOPIC_DESTINATION_PREFIX" default:"schemabridge.resolved"`
}

type SinkConfig struct {
	Kind string `envconfig:"SCHEMABRIDGE_SINK_KIND" default:"kafka" validate:"oneof=kafka pubsub"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SCHEMABRIDGE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PublishTimeout time.Duration `envconfig:"SCHEMABRIDGE_PUBSUB_PUBLISH_TIMEOUT" default:"15s"`
}

// SyncConfig is the configuration surface consumed by the resolution core.
type SyncConfig struct {
	CacheTTLSeconds               int    `envconfig:"SCHEMABRIDGE_SYNC_CACHE_TTL_SECONDS" default:"3600" validate:"gt=0"`
	DependencyMaxWaitSeconds      int    `envconfig:"SCHEMABRIDGE_SYNC_DEPENDENCY_MAX_WAIT_SECONDS" default:"30" validate:"gt=0"`
	AdditionalResultConsumeTimeMS int    `envconfig:"SCHEMABRIDGE_SYNC_ADDITIONAL_CONSUME_TIMEOUT_MS" default:"500" validate:"gt=0"`
	RetryDelayMS                  int    `envconfig:"SCHEMABRIDGE_SYNC_RETRY_DELAY_MS" default:"200" validate:"gte=0"`
	BatchCollectionWindowMS       int    `envconfig:"SCHEMABRIDGE_SYNC_BATCH_WINDOW_MS" default:"2000" validate:"gt=0"`
	BatchCollectionPollTimeoutMS  int    `envconfig:"SCHEMABRIDGE_SYNC_BATCH_POLL_TIMEOUT_MS" default:"250" validate:"gt=0"`
	MaxConcurrentResolutions      int    `envconfig:"SCHEMABRIDGE_SYNC_MAX_CONCURRENT_RESOLUTIONS" default:"4" validate:"gt=0"`
	UnresolvedPolicy              string `envconfig:"SCHEMABRIDGE_SYNC_UNRESOLVED_POLICY" default:"proceed" validate:"oneof=proceed deadletter fail"`
	CyclePolicy                   string `envconfig:"SCHEMABRIDGE_SYNC_CYCLE_POLICY" default:"fail" validate:"oneof=fail append deadletter"`
	WaitForSnapshot               bool   `envconfig:"SCHEMABRIDGE_SYNC_WAIT_FOR_SNAPSHOT" default:"false"`
	CacheBackend                  string `envconfig:"SCHEMABRIDGE_SYNC_CACHE_BACKEND" default:"memory" validate:"oneof=memory redis"`
	SourceAName                   string `envconfig:"SCHEMABRIDGE_SYNC_SOURCE_A_NAME" default:"source_a"`
	SourceBName                   string `envconfig:"SCHEMABRIDGE_SYNC_SOURCE_B_NAME" default:"source_b"`
	Chains                        string `envconfig:"SCHEMABRIDGE_SYNC_CHAINS" default:"Address:AddressId>Customer:AddressId;Customer:CustomerId>Invoice:CustomerId;Invoice:InvoiceId>InvoiceLine:InvoiceId"`
	FailedCycleRetryBaseMS        int    `envconfig:"SCHEMABRIDGE_SYNC_FAILED_CYCLE_RETRY_BASE_MS" default:"500" validate:"gt=0,ltefield=FailedCycleMaxBackoffMS"`
	FailedCycleMaxBackoffMS       int    `envconfig:"SCHEMABRIDGE_SYNC_FAILED_CYCLE_MAX_BACKOFF_MS" default:"10000" validate:"gt=0"`
}

func (s SyncConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

func (s SyncConfig) DependencyMaxWait() time.Duration {
	return time.Duration(s.DependencyMaxWaitSeconds) * time.Second
}

func (s SyncConfig) AdditionalConsumeTimeout() time.Duration {
	return time.Duration(s.AdditionalResultConsumeTimeMS) * time.Millisecond
}

func (s SyncConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

func (s SyncConfig) BatchWindow() time.Duration {
	return time.Duration(s.BatchCollectionWindowMS) * time.Millisecond
}

func (s SyncConfig) BatchPollTimeout() time.Duration {
	return time.Duration(s.BatchCollectionPollTimeoutMS) * time.Millisecond
}

func (s SyncConfig) FailedCycleRetryBase() time.Duration {
	return time.Duration(s.FailedCycleRetryBaseMS) * time.Millisecond
}

func (s SyncConfig) FailedCycleMaxBackoff() time.Duration {
	return time.Duration(s.FailedCycleMaxBackoffMS) * time.Millisecond
}

// MappingConfig maps a dependency type (upper case) to the table that stores
// its cross-schema id mapping.
type MappingConfig struct {
	Tables map[string]string `envconfig:"SCHEMABRIDGE_MAPPING_TABLES" default:"ADDRESS:address_mappings,CUSTOMER:customer_mappings,INVOICE:invoice_mappings"`
}

type OpsConfig struct {
	Port string `envconfig:"SCHEMABRIDGE_OPS_PORT" default:"9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
