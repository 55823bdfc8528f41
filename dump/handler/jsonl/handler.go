package jsonl

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump/handler"
)

const (
	Name = "jsonl"

	DefaultFileSize = uint32(10 * 1024 * 1024)   // 10 MB
	MaxFileSize     = uint32(2048 * 1024 * 1024) // 2 GB
)

// Handler JSON lines 导出文件 Handler, 文件按大小分片
type Handler struct {
	writer handler.Writer
	rows   int
}

// New creates a handler writing shards named after path.
func New(path string, fileSize uint32) *Handler {
	return NewWithWriter(handler.NewShardWriter(path, fileSize, "json"))
}

// NewWithWriter creates a handler writing to w.
func NewWithWriter(w handler.Writer) *Handler {
	return &Handler{writer: w}
}

// FileSize maps the configured size to a shard size.
func FileSize(cfg config.DumperCfg) uint32 {
	fs := cfg.FileSize
	switch {
	case fs > 0:
		return uint32(fs)
	case fs < 0:
		return MaxFileSize
	default:
		return DefaultFileSize
	}
}

// Register 注册导出 Handler
func Register(cfg *config.Config) {
	handler.RegisterHandler(Name, New(cfg.Dumper.Path, FileSize(cfg.Dumper)))
}

// Handle implements handler.Handler.
func (h *Handler) Handle(rec *handler.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := h.writer.Write(data); err != nil {
		return err
	}
	h.rows++
	logrus.WithField("table", rec.TableName).
		WithField("column", rec.ColumnName).
		Debugln("[jsonl] record")
	return h.writer.Err()
}

// Close implements handler.Handler.
func (h *Handler) Close() error {
	logrus.WithField("rows", h.rows).Infoln("jsonl.handler dump is over")
	return h.writer.Close()
}
