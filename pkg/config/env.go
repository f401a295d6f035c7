package config

const EnvPrefix = "SCHEMABRIDGE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	SinkKindKafka  = "kafka"
	SinkKindPubSub = "pubsub"
)

const (
	EnvAppEnv = "SCHEMABRIDGE_APP_ENV"

	EnvDBDSN  = "SCHEMABRIDGE_DB_DSN"
	EnvDBHost = "SCHEMABRIDGE_DB_HOST"
	EnvDBUser = "SCHEMABRIDGE_DB_USER"
	EnvDBName = "SCHEMABRIDGE_DB_NAME"

	EnvRedisURL  = "SCHEMABRIDGE_REDIS_URL"
	EnvRedisAddr = "SCHEMABRIDGE_REDIS_ADDR"

	EnvKafkaBrokers = "SCHEMABRIDGE_KAFKA_BROKERS"
	EnvTopicSourceA = "SCHEMABRIDGE_TOPIC_SOURCE_A"
	EnvTopicSourceB = "SCHEMABRIDGE_TOPIC_SOURCE_B"

	EnvSinkKind     = "SCHEMABRIDGE_SINK_KIND"
	EnvGCPProjectID = "SCHEMABRIDGE_GCP_PROJECT_ID"

	EnvSyncCacheBackend     = "SCHEMABRIDGE_SYNC_CACHE_BACKEND"
	EnvSyncUnresolvedPolicy = "SCHEMABRIDGE_SYNC_UNRESOLVED_POLICY"
	EnvSyncMaxWaitSeconds   = "SCHEMABRIDGE_SYNC_DEPENDENCY_MAX_WAIT_SECONDS"
	EnvSyncRetryDelayMS     = "SCHEMABRIDGE_SYNC_RETRY_DELAY_MS"
	EnvSyncFailedRetryBase  = "SCHEMABRIDGE_SYNC_FAILED_CYCLE_RETRY_BASE_MS"
	EnvMappingTables        = "SCHEMABRIDGE_MAPPING_TABLES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
