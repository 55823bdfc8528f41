package jsonl

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump/handler"
)

func TestHandle(t *testing.T) {
	w := &handler.WriterMock{}
	w.On("Write", mock.Anything).Return(0, nil)
	w.On("Err").Return(nil)
	w.On("Close").Return(nil)

	h := NewWithWriter(w)
	exported := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	for _, name := range []string{"orders", "events"} {
		rec := &handler.Record{ID: handler.DocID(1, "time"), TableID: 1, TableName: name, ColumnName: "time", AttNum: 3, ExportedAt: exported}
		require.NoError(t, h.Handle(rec))
	}
	require.NoError(t, h.Close())

	lines := strings.Split(strings.TrimSuffix(w.Buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	var got handler.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "events", got.TableName)
	assert.True(t, exported.Equal(got.ExportedAt))
	w.AssertNumberOfCalls(t, "Close", 1)
}

func TestFileSize(t *testing.T) {
	tests := []struct {
		size int
		want uint32
	}{
		{0, DefaultFileSize},
		{-1, MaxFileSize},
		{4096, 4096},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileSize(config.DumperCfg{FileSize: tt.size}))
	}
}
