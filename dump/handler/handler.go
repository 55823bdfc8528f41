package handler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teamlint/pg-implicit/types"
)

var (
	mu                 sync.RWMutex
	handlers           map[string]Handler
	ErrHandlerNotFound = errors.New("dump handler not found")
)

// Record 导出的一行 pg_implicit_columns_view
type Record struct {
	ID         string    `json:"id"`
	Node       string    `json:"node"`
	TableID    types.Oid `json:"table_oid"`
	TableName  string    `json:"table_name"`
	ColumnName string    `json:"column_name"`
	AttNum     int16     `json:"attnum"`
	Visible    bool      `json:"visible"`
	ExportedAt time.Time `json:"exported_at"`
}

// DocID is stable for a (table, column) pair across dumps.
func DocID(table types.Oid, column string) string {
	return fmt.Sprintf("%d_%s", uint32(table), column)
}

// Handler dump 数据处理器
type Handler interface {
	Handle(rec *Record) error
	// Close 导出结束
	Close() error
}

// GetHandler returns the handler registered under name.
func GetHandler(name string) (Handler, error) {
	mu.RLock()
	defer mu.RUnlock()
	if h, ok := handlers[name]; ok {
		return h, nil
	}
	return nil, ErrHandlerNotFound
}

// RegisterHandler registers h under name; the first registration wins.
func RegisterHandler(name string, h Handler) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := handlers[name]; !ok {
		handlers[name] = h
	}
}

func init() {
	handlers = make(map[string]Handler)
}
