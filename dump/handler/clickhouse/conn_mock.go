package clickhouse

import (
	"database/sql/driver"

	"github.com/stretchr/testify/mock"
)

// ConnMock mock of Conn.
type ConnMock struct {
	mock.Mock
}

func (c *ConnMock) Begin() (driver.Tx, error) {
	args := c.Called()
	tx, _ := args.Get(0).(driver.Tx)
	return tx, args.Error(1)
}

func (c *ConnMock) Prepare(query string) (driver.Stmt, error) {
	args := c.Called(query)
	stmt, _ := args.Get(0).(driver.Stmt)
	return stmt, args.Error(1)
}

func (c *ConnMock) Commit() error {
	return c.Called().Error(0)
}

func (c *ConnMock) Rollback() error {
	return c.Called().Error(0)
}

func (c *ConnMock) Close() error {
	return c.Called().Error(0)
}

// StmtMock mock of driver.Stmt. Executed rows are kept in Rows.
type StmtMock struct {
	mock.Mock
	Rows [][]driver.Value
}

func (s *StmtMock) Close() error {
	return s.Called().Error(0)
}

func (s *StmtMock) NumInput() int {
	return -1
}

func (s *StmtMock) Exec(args []driver.Value) (driver.Result, error) {
	ret := s.Called(args)
	if ret.Error(1) == nil {
		s.Rows = append(s.Rows, args)
	}
	res, _ := ret.Get(0).(driver.Result)
	return res, ret.Error(1)
}

func (s *StmtMock) Query(args []driver.Value) (driver.Rows, error) {
	ret := s.Called(args)
	rows, _ := ret.Get(0).(driver.Rows)
	return rows, ret.Error(1)
}
