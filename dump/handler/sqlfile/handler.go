package sqlfile

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump/handler"
	"github.com/teamlint/pg-implicit/dump/handler/jsonl"
)

const (
	Name = "sql"

	// CompleteStatement 标识 SQL 文件内容结束语句
	CompleteStatement = "-- implicit columns dump complete\n"
)

// Handler 以 pg_dump --column-inserts 格式导出
type Handler struct {
	writer handler.Writer
	header bool
}

// New creates a handler writing to w.
func New(w handler.Writer) *Handler {
	return &Handler{writer: w}
}

// Register 注册导出 Handler
func Register(cfg *config.Config) {
	handler.RegisterHandler(Name, New(handler.NewShardWriter(cfg.Dumper.Path, jsonl.FileSize(cfg.Dumper), "sql")))
}

// Statement renders rec as an INSERT statement.
func Statement(rec *handler.Record) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%d, %s, %s, %d, %t);\n",
		catalog.ViewName, strings.Join(catalog.ViewColumns, ", "),
		uint32(rec.TableID), quote(rec.TableName), quote(rec.ColumnName), rec.AttNum, rec.Visible)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Handle implements handler.Handler.
func (h *Handler) Handle(rec *handler.Record) error {
	if !h.header {
		h.header = true
		head := fmt.Sprintf("--\n-- implicit columns dump, node %s, %s\n--\n\n", rec.Node, rec.ExportedAt.Format("2006-01-02 15:04:05"))
		if _, err := h.writer.Write([]byte(head)); err != nil {
			return err
		}
	}
	_, err := h.writer.Write([]byte(Statement(rec)))
	return err
}

// Close implements handler.Handler.
func (h *Handler) Close() error {
	if _, err := h.writer.Write([]byte("\n" + CompleteStatement)); err != nil {
		return err
	}
	logrus.WithField("handler", Name).Infoln("dump is over")
	return h.writer.Close()
}
