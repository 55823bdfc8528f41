package main

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/database"
	"github.com/teamlint/pg-implicit/dump/handler/clickhouse"
	"github.com/teamlint/pg-implicit/dump/handler/esbulk"
	"github.com/teamlint/pg-implicit/dump/handler/jsonl"
	"github.com/teamlint/pg-implicit/dump/handler/sqlfile"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/event"
	"github.com/teamlint/pg-implicit/event/publisher/nats"
	"github.com/teamlint/pg-implicit/executor"
)

// getConf load config from file. A missing file keeps the defaults.
func getConf(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.WithField("config", path).Debugln("config file not found, using defaults")
		return &cfg, nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "error reading config")
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode into config struct")
	}
	return &cfg, nil
}

// initLogger init logrus preferences.
func initLogger(cfg config.LoggerCfg) {
	logrus.SetReportCaller(cfg.Caller)
	if !cfg.HumanReadable {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithError(err).Warnln("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// initPublisher 注册并返回缓存失效信号发布器
func initPublisher(cfg *config.Config) (event.Publisher, error) {
	switch cfg.Publisher.Type {
	case config.PublisherNats:
		if err := nats.Register(cfg); err != nil {
			return nil, err
		}
	default:
		event.RegisterPublisher(config.PublisherLocal, event.NewLocal())
	}
	return event.GetPublisher(cfg.Publisher.Type)
}

// initStore opens the catalog backend. The returned func releases it.
func initStore(cfg *config.Config) (catalog.Store, func(), error) {
	if cfg.Catalog.Backend != config.BackendPostgres {
		return catalog.NewMemStore(), func() {}, nil
	}
	pool, err := database.InitConnection(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := database.New(pool)
	if !store.IsAlive() {
		store.Close()
		return nil, nil, database.ErrConnectionIsLost
	}
	if err := store.Bootstrap(); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func registerHandlers(cfg *config.Config) error {
	jsonl.Register(cfg)
	sqlfile.Register(cfg)
	clickhouse.Register(cfg)
	return esbulk.Register(cfg)
}

// withSession loads config, builds the executor, runs the --init scripts
// and hands a session to fn.
func withSession(c *cli.Context, fn func(cfg *config.Config, ex *executor.Executor, s *executor.Session) error) error {
	// config
	cfg, err := getConf(c.String("config"))
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return errors.Wrap(err, "validate config error")
	}
	// logger
	initLogger(cfg.Logger)
	// publisher
	pub, err := initPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()
	// catalog store
	store, closeStore, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	// executor
	eng := engine.New(
		engine.WithNodeID(cfg.Engine.NodeID),
		engine.WithLockTimeout(cfg.Engine.LockTimeout),
		engine.WithPublisher(pub, cfg.Publisher.TopicPrefix),
	)
	ex, err := executor.New(eng, store, executor.WithStrictConflicts(cfg.Catalog.StrictConflicts))
	if err != nil {
		return err
	}
	if sub, ok := pub.(event.Subscriber); ok {
		subscription, err := ex.Relcache().Subscribe(sub, cfg.Publisher.TopicPrefix)
		if err != nil {
			return err
		}
		defer subscription.Unsubscribe()
	}
	s := ex.NewSession()
	defer s.Close()
	for _, path := range c.StringSlice("init") {
		script, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if _, err := s.ExecScript(c.Context, string(script)); err != nil {
			return errors.Wrapf(err, "init %s", path)
		}
	}
	return fn(cfg, ex, s)
}
