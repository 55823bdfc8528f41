package database

import (
	"github.com/jackc/pgx"
	"github.com/stretchr/testify/mock"
)

type sessionMock struct {
	mock.Mock
}

func (s *sessionMock) Exec(sql string, args ...interface{}) (pgx.CommandTag, error) {
	called := s.Called(append([]interface{}{sql}, args...)...)
	return called.Get(0).(pgx.CommandTag), called.Error(1)
}

func (s *sessionMock) Query(sql string, args ...interface{}) (*pgx.Rows, error) {
	called := s.Called(append([]interface{}{sql}, args...)...)
	return nil, called.Error(1)
}

func (s *sessionMock) Commit() error {
	return s.Called().Error(0)
}

func (s *sessionMock) Rollback() error {
	return s.Called().Error(0)
}

type beginnerMock struct {
	mock.Mock
}

func (b *beginnerMock) Begin() (session, error) {
	called := b.Called()
	sess, _ := called.Get(0).(session)
	return sess, called.Error(1)
}
