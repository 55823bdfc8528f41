package database

import (
	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/config"
)

const (
	ErrMsgPostgresConnection = "db connection error"
)

// ErrConnectionIsLost db connection to postgres is lost.
var ErrConnectionIsLost = errors.New("db connection to postgres is lost")

// InitConnection opens the connection pool of the catalog backend.
func InitConnection(cfg config.DatabaseCfg) (*pgx.ConnPool, error) {
	pgxConf := pgx.ConnConfig{
		LogLevel: pgx.LogLevelInfo,
		Logger:   pgxLogger{},
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Name,
		User:     cfg.User,
		Password: cfg.Password,
	}
	pool, err := pgx.NewConnPool(pgx.ConnPoolConfig{
		ConnConfig:     pgxConf,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return nil, errors.Wrap(err, ErrMsgPostgresConnection)
	}
	return pool, nil
}

type pgxLogger struct{}

func (l pgxLogger) Log(level pgx.LogLevel, msg string, data map[string]interface{}) {
	logrus.WithFields(data).Debugln(msg)
}
