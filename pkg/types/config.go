package types

// APIConfig describes the remote metrics API.
type APIConfig struct {
	BaseURL        string   `yaml:"baseURL" json:"baseURL"`
	Metrics        []string `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	RequestTimeout string   `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"` // default "30s"
}

// AuthConfig configures the bearer credential and its refresh collaborator.
type AuthConfig struct {
	AccessToken  string   `yaml:"accessToken,omitempty" json:"-"`
	TokenURL     string   `yaml:"tokenURL,omitempty" json:"tokenURL,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty" json:"-"`
	RefreshToken string   `yaml:"refreshToken,omitempty" json:"-"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// SecretID, when set, names an AWS Secrets Manager secret holding
	// clientId, clientSecret and refreshToken.
	SecretID string `yaml:"secretId,omitempty" json:"secretId,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
}

// Band maps a utilization range to a pacing delay and a batch size. A band
// applies while utilization is strictly below Below.
type Band struct {
	Below     float64 `yaml:"below" json:"below"`
	Delay     string  `yaml:"delay" json:"delay"`
	BatchSize int     `yaml:"batchSize" json:"batchSize"`
}

// RateConfig configures the quota tracker and batch scheduler.
type RateConfig struct {
	CeilingPerMinute  int     `yaml:"ceilingPerMinute" json:"ceilingPerMinute"`
	TargetUtilization float64 `yaml:"targetUtilization,omitempty" json:"targetUtilization,omitempty"` // default 0.80
	DailyCeiling      int     `yaml:"dailyCeiling,omitempty" json:"dailyCeiling,omitempty"`
	HardLimit         bool    `yaml:"hardLimit,omitempty" json:"hardLimit,omitempty"`
	Bands             []Band  `yaml:"bands,omitempty" json:"bands,omitempty"`
}

// RetryConfig configures rate-limit backoff.
type RetryConfig struct {
	MaxRateLimitRetries int     `yaml:"maxRateLimitRetries,omitempty" json:"maxRateLimitRetries,omitempty"`
	BaseBackoff         string  `yaml:"baseBackoff,omitempty" json:"baseBackoff,omitempty"`
	Multiplier          float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxBackoff          string  `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	Disabled      bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	FailThreshold uint32 `yaml:"failThreshold,omitempty" json:"failThreshold,omitempty"` // default 25
	Cooldown      string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`           // default "30s"
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN       string `yaml:"dsn" json:"-"`
	MaxConns  int    `yaml:"maxConns,omitempty" json:"maxConns,omitempty"`
	BatchSize int    `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region" json:"region"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// BackendConfig selects a storage backend for one role.
type BackendConfig struct {
	Provider StoreProvider `yaml:"provider" json:"provider"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// ServerConfig holds ops HTTP server settings.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"apiKey,omitempty" json:"-"`
}

// ProjectConfig represents the top-level tally.yaml configuration.
type ProjectConfig struct {
	API         APIConfig        `yaml:"api"`
	Auth        AuthConfig       `yaml:"auth"`
	Rate        RateConfig       `yaml:"rate"`
	Retry       RetryConfig      `yaml:"retry,omitempty"`
	Breaker     BreakerConfig    `yaml:"breaker,omitempty"`
	Store       BackendConfig    `yaml:"store"`
	Entities    BackendConfig    `yaml:"entities"`
	Checkpoints BackendConfig    `yaml:"checkpoints,omitempty"`
	Postgres    *PostgresConfig  `yaml:"postgres,omitempty"`
	DynamoDB    *DynamoDBConfig  `yaml:"dynamodb,omitempty"`
	Redis       *RedisConfig     `yaml:"redis,omitempty"`
	Telemetry   *TelemetryConfig `yaml:"telemetry,omitempty"`
	Server      *ServerConfig    `yaml:"server,omitempty"`
	LogLevel    string           `yaml:"logLevel,omitempty"`
}
