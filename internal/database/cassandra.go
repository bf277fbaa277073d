package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"callsignal-backend/pkg/config"
)

// DefaultCassandraQueryTimeout is the default timeout for Cassandra queries
const DefaultCassandraQueryTimeout = 5 * time.Second

// CassandraDB wraps the gocql Session with context support
type CassandraDB struct {
	Session *gocql.Session
}

// NewCassandraDB creates a session for the configured keyspace
func NewCassandraDB(cfg config.CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.ParseConsistency(cfg.Consistency)

	cluster.Timeout = cfg.Timeout
	if cluster.Timeout <= 0 {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}

// ExecWithContext executes a statement bound to ctx
func (c *CassandraDB) ExecWithContext(ctx context.Context, stmt string, values ...interface{}) error {
	return c.Session.Query(stmt, values...).WithContext(ctx).Exec()
}
