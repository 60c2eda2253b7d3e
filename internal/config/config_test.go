package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "provisioning_db", cfg.Database.Database)
			assert.Equal(t, "provisioning_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "provisioning_jobs", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "user-provisioner", cfg.App.Name)
			assert.Equal(t, "acme-import-core", cfg.Import.CoreGroup)
			assert.Equal(t, 90*time.Second, cfg.Import.MetaLead)
			assert.Equal(t, []string{"provincia_ecuador", "provincia"}, cfg.Import.AllowList["provincia_ecuador"])
			assert.Equal(t, []string{"subscriber", "editor"}, cfg.Provision.Roles)
			assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, "subscriber", cfg.Import.DefaultRole)
	assert.Equal(t, "user-import-core", cfg.Import.CoreGroup)
	assert.Equal(t, "user-import-meta", cfg.Import.MetaGroup)
	assert.Equal(t, 60*time.Second, cfg.Import.MetaLead)
	assert.Equal(t, "allowlist", cfg.Import.MetaMode)
	assert.Equal(t, "subscriber", cfg.Provision.BaselineRole)
	assert.Contains(t, cfg.Provision.Roles, "subscriber")
	assert.Equal(t, "logs", cfg.Provision.LogDir)
	assert.Equal(t, "user-import-meta", cfg.Provision.RetryGroup)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.StaleAfter)
	assert.Equal(t, 60*time.Second, cfg.Provision.RetryDelay)
	assert.Equal(t, 3, cfg.Provision.MaxKeyRetries)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "provisioning_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "provisioning_exchange"},
			Queue:    QueueConfig{Name: "provisioning_jobs"},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			JobTimeout:        time.Minute,
			HeartbeatInterval: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "unknown meta mode",
			mutate:    func(c *Config) { c.Import.MetaMode = "everything" },
			wantErr:   true,
			errString: "invalid import meta_mode",
		},
		{
			name: "allow list key without aliases",
			mutate: func(c *Config) {
				c.Import.AllowList = map[string][]string{"provincia_ecuador": nil}
			},
			wantErr:   true,
			errString: "has no header aliases",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "baseline role outside role set",
			mutate:    func(c *Config) { c.Provision.BaselineRole = "guest" },
			wantErr:   true,
			errString: "baseline_role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
		require.NoError(t, cfg.ValidateCLIConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateCLIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
