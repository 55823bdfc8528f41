package clickhouse

import (
	"database/sql/driver"
	"fmt"
	"net/url"

	chgo "github.com/ClickHouse/clickhouse-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump/handler"
)

const (
	Name = config.HandlerClickhouse

	DefaultRows = 8164  // 默认批处理行数
	MaxRows     = 50000 // 最大行数
)

// Table clickhouse 目标表
var Table = catalog.RelationName

// Conn clickhouse 直连, clickhouse-go 的 OpenDirect 返回值满足此接口
type Conn interface {
	Begin() (driver.Tx, error)
	Prepare(query string) (driver.Stmt, error)
	Commit() error
	Rollback() error
	Close() error
}

// Dialer opens the connection on first use.
type Dialer func() (Conn, error)

// Handler 批量写入 clickhouse 的 Handler. 表按 (node, table_oid, column_name)
// 排序, ReplacingMergeTree 保留最近一次导出
type Handler struct {
	dial     Dialer
	conn     Conn
	database string
	maxRows  int
	rows     []*handler.Record
}

// New creates a handler; dial runs on the first flush.
func New(dial Dialer, database string, maxRows int) *Handler {
	switch {
	case maxRows <= 0:
		maxRows = DefaultRows
	case maxRows > MaxRows:
		maxRows = MaxRows
	}
	if database == "" {
		database = "default"
	}
	return &Handler{dial: dial, database: database, maxRows: maxRows}
}

// Register 注册导出 Handler, 未配置仓库地址时跳过
func Register(cfg *config.Config) {
	repo := cfg.Dumper.Repository
	if repo.Host == "" {
		return
	}
	dsn := connectionString(repo)
	handler.RegisterHandler(Name, New(func() (Conn, error) {
		return chgo.OpenDirect(dsn)
	}, repo.Name, DefaultRows))
}

func connectionString(c config.RepositoryCfg) string {
	connStr := url.Values{}

	connStr.Add("username", c.User)
	connStr.Add("password", c.Password)
	connStr.Add("database", c.Name)

	for param, value := range c.Params {
		connStr.Add(param, value)
	}

	return fmt.Sprintf("tcp://%s:%d?%s", c.Host, c.Port, connStr.Encode())
}

// tableDDL 生成目标表 DDL
func (h *Handler) tableDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    id String,
    node String,
    table_oid UInt32,
    table_name String,
    column_name String,
    attnum Int16,
    visible UInt8,
    exported_at DateTime
)
Engine = ReplacingMergeTree(exported_at)
ORDER BY (node, table_oid, column_name);`, h.database, Table)
}

func (h *Handler) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s.%s (id, node, table_oid, table_name, column_name, attnum, visible, exported_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		h.database, Table)
}

func (h *Handler) connect() error {
	if h.conn != nil {
		return nil
	}
	conn, err := h.dial()
	if err != nil {
		return errors.Wrap(err, "clickhouse connect")
	}
	h.conn = conn
	if err := h.exec(h.tableDDL(), [][]driver.Value{{}}); err != nil {
		return errors.Wrap(err, "create table")
	}
	logrus.WithField("database", h.database).WithField("table", Table).Infoln("clickhouse table is ready")
	return nil
}

// exec 在一个批次中执行 query, 每组参数执行一次
func (h *Handler) exec(query string, args [][]driver.Value) error {
	if _, err := h.conn.Begin(); err != nil {
		return err
	}
	stmt, err := h.conn.Prepare(query)
	if err != nil {
		_ = h.conn.Rollback()
		return err
	}
	defer stmt.Close()
	for _, values := range args {
		if _, err := stmt.Exec(values); err != nil {
			logrus.WithError(err).Errorln("clickhouse stmt.Exec")
			_ = h.conn.Rollback()
			return err
		}
	}
	return h.conn.Commit()
}

// Handle implements handler.Handler.
func (h *Handler) Handle(rec *handler.Record) error {
	h.rows = append(h.rows, rec)
	if len(h.rows) >= h.maxRows {
		return h.flush()
	}
	return nil
}

func (h *Handler) flush() error {
	if len(h.rows) == 0 {
		return nil
	}
	if err := h.connect(); err != nil {
		return err
	}
	args := make([][]driver.Value, 0, len(h.rows))
	for _, rec := range h.rows {
		var visible uint8
		if rec.Visible {
			visible = 1
		}
		args = append(args, []driver.Value{
			rec.ID, rec.Node, uint32(rec.TableID), rec.TableName, rec.ColumnName, rec.AttNum, visible, rec.ExportedAt,
		})
	}
	if err := h.exec(h.insertSQL(), args); err != nil {
		return errors.Wrap(err, "clickhouse insert")
	}
	logrus.WithField("rows", len(h.rows)).Infoln("clickhouse batch sent")
	h.rows = h.rows[:0]
	return nil
}

// Close implements handler.Handler.
func (h *Handler) Close() error {
	err := h.flush()
	if h.conn != nil {
		if cerr := h.conn.Close(); err == nil {
			err = cerr
		}
		h.conn = nil
	}
	return err
}
