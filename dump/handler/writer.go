package handler

import (
	"github.com/teamlint/shard"
)

// Writer the output of file based handlers.
type Writer interface {
	Write(p []byte) (int, error)
	Err() error
	Close() error
}

// shardWriter 按文件大小切分输出文件
type shardWriter struct {
	w *shard.Writer
}

// NewShardWriter writes files named after path, starting a new file every
// fileSize bytes.
func NewShardWriter(path string, fileSize uint32, ext string) Writer {
	return &shardWriter{w: shard.NewWriter(path, shard.FileSize(fileSize), shard.Extension(ext))}
}

func (s *shardWriter) Write(p []byte) (int, error) {
	s.w.Write(p)
	if err := s.w.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *shardWriter) Err() error {
	return s.w.Err()
}

func (s *shardWriter) Close() error {
	s.w.Close()
	return s.w.Err()
}
