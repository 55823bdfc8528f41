package handler

import (
	"bytes"

	"github.com/stretchr/testify/mock"
)

// WriterMock mock of Writer. Written bytes are kept in Buf.
type WriterMock struct {
	mock.Mock
	Buf bytes.Buffer
}

func (w *WriterMock) Write(p []byte) (int, error) {
	args := w.Called(p)
	if args.Error(1) == nil {
		w.Buf.Write(p)
	}
	return args.Int(0), args.Error(1)
}

func (w *WriterMock) Err() error {
	args := w.Called()
	return args.Error(0)
}

func (w *WriterMock) Close() error {
	args := w.Called()
	return args.Error(0)
}
