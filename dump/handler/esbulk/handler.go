package esbulk

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump/handler"
	"github.com/teamlint/pg-implicit/dump/handler/jsonl"
)

const (
	Name = "esbulk"
	// DefaultMaxDocs 一次批处理最多文档条数
	DefaultMaxDocs = 2000
)

// Index elasticsearch index the records go to.
var Index = catalog.RelationName

// ElasticBulkHandler Bulk JSON 导入 Handler. 配置了 client 时直接提交,
// 否则写入 bulk 文件供 implicit-dump2es 导入
type ElasticBulkHandler struct {
	client  *elasticsearch.Client
	writer  handler.Writer
	maxDocs int
	buf     bytes.Buffer
	docs    int
}

// New creates a handler that writes bulk files.
func New(w handler.Writer, maxDocs int) *ElasticBulkHandler {
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocs
	}
	return &ElasticBulkHandler{writer: w, maxDocs: maxDocs}
}

// NewClient creates a handler that sends bulk requests to ec.
func NewClient(ec *elasticsearch.Client, maxDocs int) *ElasticBulkHandler {
	h := New(nil, maxDocs)
	h.client = ec
	return h
}

// Register 注册导出 Handler
func Register(cfg *config.Config) error {
	if cfg.Dumper.ElasticAddr == "" {
		handler.RegisterHandler(Name, New(handler.NewShardWriter(cfg.Dumper.Path, jsonl.FileSize(cfg.Dumper), "json"), DefaultMaxDocs))
		return nil
	}
	ec, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.Dumper.ElasticAddr},
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    10,
	})
	if err != nil {
		return errors.Wrap(err, "elasticsearch client")
	}
	handler.RegisterHandler(Name, NewClient(ec, DefaultMaxDocs))
	return nil
}

// Handle implements handler.Handler.
func (h *ElasticBulkHandler) Handle(rec *handler.Record) error {
	meta := []byte(fmt.Sprintf(`{ "index" : { "_index" : "%s", "_id" : "%s" } }%s`, Index, rec.ID, "\n"))
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, "\n"...)
	h.buf.Grow(len(meta) + len(data))
	h.buf.Write(meta)
	h.buf.Write(data)
	h.docs++
	logrus.WithField("id", rec.ID).Debugln("bulk")
	if h.docs >= h.maxDocs {
		return h.flush()
	}
	return nil
}

func (h *ElasticBulkHandler) flush() error {
	if h.docs == 0 {
		return nil
	}
	defer func() {
		h.buf.Reset()
		h.docs = 0
	}()
	if h.client == nil {
		_, err := h.writer.Write(h.buf.Bytes())
		return err
	}
	res, err := h.client.Bulk(bytes.NewReader(h.buf.Bytes()))
	if err != nil {
		return errors.Wrap(err, "bulk request")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("bulk request: %s", res.Status())
	}
	logrus.WithField("docs", h.docs).Infoln("bulk sent")
	return nil
}

// Close implements handler.Handler.
func (h *ElasticBulkHandler) Close() error {
	if err := h.flush(); err != nil {
		return err
	}
	if h.writer != nil {
		return h.writer.Close()
	}
	return nil
}
