package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Import    ImportConfig    `yaml:"import"`
	Provision ProvisionConfig `yaml:"provision"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadSize   int64         `yaml:"max_upload_size"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig holds settings of the delayed-job ledger and its dispatcher
type SchedulerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// ImportConfig holds defaults for the CSV enqueue phase
type ImportConfig struct {
	DefaultRole string              `yaml:"default_role"`
	CoreGroup   string              `yaml:"core_group"`
	MetaGroup   string              `yaml:"meta_group"`
	MetaLead    time.Duration       `yaml:"meta_lead"`
	MetaMode    string              `yaml:"meta_mode"`
	AllowList   map[string][]string `yaml:"allow_list"`
}

// ProvisionConfig holds settings of the apply phase
type ProvisionConfig struct {
	Roles         []string      `yaml:"roles"`
	BaselineRole  string        `yaml:"baseline_role"`
	PasswordCost  int           `yaml:"password_cost"`
	LogDir        string        `yaml:"log_dir"`
	RetryGroup    string        `yaml:"retry_group"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxKeyRetries int           `yaml:"max_key_retries"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = time.Second
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Scheduler.MaxRetries < 0 {
		c.Scheduler.MaxRetries = 0
	}
	if c.Scheduler.TimeoutSeconds <= 0 {
		c.Scheduler.TimeoutSeconds = 300
	}
	if c.Scheduler.StaleAfter == 0 {
		c.Scheduler.StaleAfter = 10 * time.Minute
	}

	if c.Import.DefaultRole == "" {
		c.Import.DefaultRole = "subscriber"
	}
	if c.Import.CoreGroup == "" {
		c.Import.CoreGroup = "user-import-core"
	}
	if c.Import.MetaGroup == "" {
		c.Import.MetaGroup = "user-import-meta"
	}
	if c.Import.MetaLead == 0 {
		c.Import.MetaLead = 60 * time.Second
	}
	if c.Import.MetaMode == "" {
		c.Import.MetaMode = "allowlist"
	}

	if c.Provision.BaselineRole == "" {
		c.Provision.BaselineRole = "subscriber"
	}
	if len(c.Provision.Roles) == 0 {
		c.Provision.Roles = []string{"subscriber", "contributor", "author", "editor", "administrator"}
	}
	if c.Provision.LogDir == "" {
		c.Provision.LogDir = "logs"
	}
	if c.Provision.RetryGroup == "" {
		c.Provision.RetryGroup = c.Import.MetaGroup
	}
	if c.Provision.RetryDelay <= 0 {
		c.Provision.RetryDelay = 60 * time.Second
	}
	if c.Provision.MaxKeyRetries <= 0 {
		c.Provision.MaxKeyRetries = 3
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateImport()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if !containsString(c.Provision.Roles, c.Provision.BaselineRole) {
		return fmt.Errorf("provision baseline_role %q is not in roles", c.Provision.BaselineRole)
	}

	return nil
}

// ValidateCLIConfig checks the settings the enqueue command depends on
func (c *Config) ValidateCLIConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateImport()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateImport() error {
	switch c.Import.MetaMode {
	case "allowlist", "open":
	default:
		return fmt.Errorf("invalid import meta_mode: %q (must be allowlist or open)", c.Import.MetaMode)
	}

	if c.Import.MetaLead < 0 {
		return fmt.Errorf("import meta_lead must not be negative")
	}

	for key, aliases := range c.Import.AllowList {
		if key == "" {
			return fmt.Errorf("import allow_list contains an empty meta key")
		}
		if len(aliases) == 0 {
			return fmt.Errorf("import allow_list key %q has no header aliases", key)
		}
	}

	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
