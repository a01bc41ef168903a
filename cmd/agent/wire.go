package main

import (
	"context"
	"database/sql"
	"log/slog"

	"callflow/internal/audit"
	"callflow/internal/config"
	"callflow/internal/egress"
	"callflow/internal/reconcile"
	"callflow/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// closers run in reverse order on shutdown.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) closeAll(log *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close failed", "err", err)
		}
	}
}

// openPostgres returns nil when no database is configured.
func openPostgres(ctx context.Context, cfg config.Config, cl *closers) (*sql.DB, error) {
	if !cfg.PostgresEnabled() {
		return nil, nil
	}
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{ApplicationName: "callflow-agent"})
	if err != nil {
		return nil, err
	}
	cl.add(db.Close)
	return db, nil
}

// openRedis returns nil when no Redis is configured.
func openRedis(ctx context.Context, cfg config.Config, cl *closers) (*redis.Client, error) {
	if !cfg.RedisEnabled() {
		return nil, nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, err
	}
	cl.add(rdb.Close)
	return rdb, nil
}

// egressRepo keeps jobs in Postgres when available, in memory otherwise, and
// always mirrors them as manifests next to the recordings for the directory sweep.
func egressRepo(db *sql.DB, cfg config.Config) egress.Repository {
	var primary egress.Repository = egress.NewMemoryRepo()
	if db != nil {
		primary = egress.NewPostgresRepo(db)
	}
	return egress.Tee{primary, egress.NewManifestRepo(cfg.Paths.RecordingsDir)}
}

func lease(rdb *redis.Client) reconcile.Lease {
	if rdb == nil {
		return reconcile.NewMemoryLease()
	}
	return reconcile.NewRedisLease(rdb)
}

// auditSinks always logs; Kafka and MQTT are added when configured. A sink
// that cannot be created is logged and skipped.
func auditSinks(cfg config.Config, log *slog.Logger, cl *closers) audit.Repository {
	sinks := audit.Fanout{audit.NewLogRepo(log)}

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := audit.NewKafkaRepo(audit.KafkaOptions{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.AuditTopic})
		if err != nil {
			log.Warn("kafka audit sink disabled", "err", err)
		} else {
			cl.add(k.Close)
			sinks = append(sinks, k)
		}
	}
	if cfg.MQTT.Broker != "" {
		m, err := audit.NewMQTTRepo(audit.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			log.Warn("mqtt audit sink disabled", "err", err)
		} else {
			cl.add(m.Close)
			sinks = append(sinks, m)
		}
	}
	return sinks
}
