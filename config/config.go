package config

import (
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
)

// 目录存储后端
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// 失效信号发布器类型
const (
	PublisherLocal = "local"
	PublisherNats  = "nats"
)

// HandlerClickhouse 导出到 clickhouse 的 Handler 名称
const HandlerClickhouse = "clickhouse"

var (
	ErrUnknownBackend   = errors.New("unknown catalog backend")
	ErrUnknownPublisher = errors.New("unknown publisher type")
	ErrIncomplete       = errors.New("incomplete configuration")
)

// Config for implicitctl.
type Config struct {
	Engine    EngineCfg    // 存储引擎配置
	Catalog   CatalogCfg   // 隐含列目录配置
	Database  DatabaseCfg  // PostgreSQL 目录后端连接配置
	Publisher PublisherCfg // 缓存失效信号发布器配置
	Dumper    DumperCfg    // Dumper 配置
	Logger    LoggerCfg    // 日志配置
}

// EngineCfg host engine settings.
type EngineCfg struct {
	NodeID      string        // 节点标识, 为空时自动生成
	LockTimeout time.Duration // 表锁等待超时, 0 表示一直等待
}

// CatalogCfg implicit column catalog settings.
type CatalogCfg struct {
	Backend string `valid:"required,in(memory|postgres)"`
	// StrictConflicts 将列名冲突从警告升级为错误
	StrictConflicts bool
}

// DatabaseCfg path of the PostgreSQL DB config.
type DatabaseCfg struct {
	Host           string
	Port           uint16
	Name           string
	User           string
	Password       string
	MaxConnections int
}

// PublisherCfg path of the event publisher config.
type PublisherCfg struct {
	Type        string `valid:"required,in(local|nats)"`
	Address     string
	ClusterID   string
	ClientID    string
	TopicPrefix string `valid:"required"`
}

// DumperCfg catalog dump settings.
type DumperCfg struct {
	Handler     string        // Dump Handler: jsonl, esbulk, sql, clickhouse 默认 jsonl
	FileSize    int           // Dump 文件大小字节: 0 使用默认 10 MB, -1 不限制文件大小
	Path        string        // 导出文件名前缀
	ElasticAddr string        // esbulk 直接提交的 elasticsearch 地址, 为空时写 bulk 文件
	Repository  RepositoryCfg // clickhouse 目标仓库, Host 为空时不注册 clickhouse Handler
}

// RepositoryCfg 目标数据仓库
type RepositoryCfg struct {
	Host     string
	Port     uint16
	Name     string
	User     string
	Password string
	Params   map[string]string
}

// LoggerCfg path of the logger config.
type LoggerCfg struct {
	Caller        bool
	Level         string
	HumanReadable bool
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Engine: EngineCfg{
			LockTimeout: 30 * time.Second,
		},
		Catalog: CatalogCfg{
			Backend: BackendMemory,
		},
		Database: DatabaseCfg{
			Host:           "127.0.0.1",
			Port:           5432,
			MaxConnections: 4,
		},
		Publisher: PublisherCfg{
			Type:        PublisherLocal,
			TopicPrefix: "implicit",
		},
		Dumper: DumperCfg{
			Handler: "jsonl",
			Path:    "dump",
		},
		Logger: LoggerCfg{
			Level:         "info",
			HumanReadable: true,
		},
	}
}

// Validate config data.
func (c Config) Validate() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return err
	}
	switch c.Catalog.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
			return errors.Wrap(ErrIncomplete, "postgres backend requires database host, name and user")
		}
	default:
		return errors.Wrapf(ErrUnknownBackend, "%q", c.Catalog.Backend)
	}
	switch c.Publisher.Type {
	case PublisherLocal:
	case PublisherNats:
		if c.Publisher.Address == "" || c.Publisher.ClusterID == "" || c.Publisher.ClientID == "" {
			return errors.Wrap(ErrIncomplete, "nats publisher requires address, cluster id and client id")
		}
	default:
		return errors.Wrapf(ErrUnknownPublisher, "%q", c.Publisher.Type)
	}
	if c.Dumper.Handler == HandlerClickhouse && (c.Dumper.Repository.Host == "" || c.Dumper.Repository.Port == 0) {
		return errors.Wrap(ErrIncomplete, "clickhouse dump handler requires repository host and port")
	}
	if c.Engine.LockTimeout < 0 {
		return errors.New("engine lock timeout must not be negative")
	}
	return nil
}
