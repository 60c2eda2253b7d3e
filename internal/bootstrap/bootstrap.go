// Package bootstrap builds the shared clients and defaults the commands start from.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/config"
	"github.com/cuongbtq/user-provisioner/internal/importer"
	"github.com/cuongbtq/user-provisioner/shared/logger"
	"github.com/cuongbtq/user-provisioner/shared/postgresql"
	"github.com/cuongbtq/user-provisioner/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// ImportDefaults returns the starting options of core and metadata enqueue
// runs. Request-level options are applied on top of them.
func ImportDefaults(cfg *config.ImportConfig) (core, meta importer.Options, err error) {
	mode, err := importer.ParseMetaMode(cfg.MetaMode)
	if err != nil {
		return importer.Options{}, importer.Options{}, fmt.Errorf("import config: %w", err)
	}

	var allow importer.AllowList
	if len(cfg.AllowList) > 0 {
		allow = importer.AllowList(cfg.AllowList)
	}

	core = importer.Options{
		Role:  cfg.DefaultRole,
		Group: cfg.CoreGroup,
	}
	meta = importer.Options{
		Group:     cfg.MetaGroup,
		Lead:      cfg.MetaLead,
		MetaMode:  mode,
		AllowList: allow,
	}

	return core, meta, nil
}
