package database

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/types"
)

// Database 数据库接口
type Database interface {
	// 创建目录关系, 唯一索引和视图
	Bootstrap() error
	// 检查数据库连接是否正常
	IsAlive() bool
	// 关闭数据库链接
	Close()
}

// session is the part of *pgx.Tx the store uses.
type session interface {
	Exec(sql string, args ...interface{}) (pgx.CommandTag, error)
	Query(sql string, args ...interface{}) (*pgx.Rows, error)
	Commit() error
	Rollback() error
}

// beginner opens backend transactions.
type beginner interface {
	Begin() (session, error)
}

type poolBeginner struct {
	pool *pgx.ConnPool
}

func (p poolBeginner) Begin() (session, error) {
	tx, err := p.pool.Begin()
	if err != nil {
		return nil, err
	}
	return tx, nil
}

const (
	sqlLookup = `SELECT ic_relid::int8, ic_attname::text, ic_attnum, ic_atttypid::int8, ic_visible, ic_epoch::int8
  FROM ` + catalog.RelationName + ` WHERE ic_relid = $1::int8::oid AND ic_attname = $2::text::name`
	sqlScan = `SELECT ic_relid::int8, ic_attname::text, ic_attnum, ic_atttypid::int8, ic_visible, ic_epoch::int8
  FROM ` + catalog.RelationName + ` WHERE ic_relid = $1::int8::oid ORDER BY ic_attname`
	sqlScanAll = `SELECT ic_relid::int8, ic_attname::text, ic_attnum, ic_atttypid::int8, ic_visible, ic_epoch::int8
  FROM ` + catalog.RelationName + ` ORDER BY ic_relid, ic_attname`
	sqlInsert = `INSERT INTO ` + catalog.RelationName + ` (ic_relid, ic_attname, ic_attnum, ic_atttypid, ic_visible, ic_epoch)
VALUES ($1::int8::oid, $2::text::name, $3, $4::int8::oid, $5, $6::int8::oid)
ON CONFLICT (ic_relid, ic_attname) DO NOTHING`
	sqlDelete      = `DELETE FROM ` + catalog.RelationName + ` WHERE ic_relid = $1::int8::oid AND ic_attname = $2::text::name`
	sqlDeleteTable = `DELETE FROM ` + catalog.RelationName + ` WHERE ic_relid = $1::int8::oid`
)

// CatalogStore keeps pg_implicit_columns in PostgreSQL. Every engine
// transaction that touches the catalog gets its own backend transaction,
// committed or rolled back together with it.
type CatalogStore struct {
	pool *pgx.ConnPool
	db   beginner

	mu   sync.Mutex
	open map[uuid.UUID]session
}

var _ catalog.Store = (*CatalogStore)(nil)

// New returns a store on pool.
func New(pool *pgx.ConnPool) *CatalogStore {
	return newStore(pool, poolBeginner{pool: pool})
}

func newStore(pool *pgx.ConnPool, db beginner) *CatalogStore {
	return &CatalogStore{pool: pool, db: db, open: make(map[uuid.UUID]session)}
}

// session returns the backend transaction of tx, opening it on first use.
func (s *CatalogStore) session(tx *engine.Txn) (session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.open[tx.ID]; ok {
		return sess, nil
	}
	sess, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, ErrMsgPostgresConnection)
	}
	s.open[tx.ID] = sess
	id := tx.ID
	tx.OnCommit(func() error {
		s.release(id)
		return errors.Wrap(sess.Commit(), "commit catalog transaction")
	})
	tx.OnAbort(func() {
		s.release(id)
		if err := sess.Rollback(); err != nil {
			logrus.WithError(err).WithField("txn", id).Warnln("catalog transaction rollback")
		}
	})
	logrus.WithField("txn", id).Debugln("catalog transaction opened")
	return sess, nil
}

func (s *CatalogStore) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.open, id)
	s.mu.Unlock()
}

// Open reports the number of backend transactions in progress.
func (s *CatalogStore) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *CatalogStore) query(tx *engine.Txn, sql string, args ...interface{}) ([]catalog.Descriptor, error) {
	sess, err := s.session(tx)
	if err != nil {
		return nil, err
	}
	rows, err := sess.Query(sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query "+catalog.RelationName)
	}
	defer rows.Close()
	var out []catalog.Descriptor
	for rows.Next() {
		var (
			relid, typid, epoch int64
			name                string
			attnum       int16
			visible      bool
		)
		if err := rows.Scan(&relid, &name, &attnum, &typid, &visible, &epoch); err != nil {
			return nil, errors.Wrap(err, "scan "+catalog.RelationName)
		}
		out = append(out, catalog.Descriptor{
			TableID: types.Oid(relid),
			Name:    name,
			AttNum:  types.AttrNumber(attnum),
			TypeID:  types.Oid(typid),
			Visible: visible,
			Epoch:   types.Oid(epoch),
		})
	}
	return out, errors.Wrap(rows.Err(), "read "+catalog.RelationName)
}

// Lookup implements catalog.Store.
func (s *CatalogStore) Lookup(tx *engine.Txn, key catalog.Key) (catalog.Descriptor, bool, error) {
	rows, err := s.query(tx, sqlLookup, int64(key.TableID), key.Name)
	if err != nil || len(rows) == 0 {
		return catalog.Descriptor{}, false, err
	}
	return rows[0], true, nil
}

// Scan implements catalog.Store.
func (s *CatalogStore) Scan(tx *engine.Txn, relid types.Oid) ([]catalog.Descriptor, error) {
	return s.query(tx, sqlScan, int64(relid))
}

// ScanAll implements catalog.Store.
func (s *CatalogStore) ScanAll(tx *engine.Txn) ([]catalog.Descriptor, error) {
	return s.query(tx, sqlScanAll)
}

// Insert implements catalog.Store.
func (s *CatalogStore) Insert(tx *engine.Txn, d catalog.Descriptor) error {
	sess, err := s.session(tx)
	if err != nil {
		return err
	}
	tag, err := sess.Exec(sqlInsert, int64(d.TableID), d.Name, int16(d.AttNum), int64(d.TypeID), d.Visible, int64(d.Epoch))
	if err != nil {
		return errors.Wrap(err, "insert into "+catalog.RelationName)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrDuplicateDescriptor
	}
	return nil
}

// Delete implements catalog.Store.
func (s *CatalogStore) Delete(tx *engine.Txn, key catalog.Key) (int, error) {
	return s.exec(tx, sqlDelete, int64(key.TableID), key.Name)
}

// DeleteTable implements catalog.Store.
func (s *CatalogStore) DeleteTable(tx *engine.Txn, relid types.Oid) (int, error) {
	return s.exec(tx, sqlDeleteTable, int64(relid))
}

func (s *CatalogStore) exec(tx *engine.Txn, sql string, args ...interface{}) (int, error) {
	sess, err := s.session(tx)
	if err != nil {
		return 0, err
	}
	tag, err := sess.Exec(sql, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete from "+catalog.RelationName)
	}
	return int(tag.RowsAffected()), nil
}

// Bootstrap creates the catalog relation, its unique index and the
// introspection view if they are missing.
func (s *CatalogStore) Bootstrap() error {
	for _, sql := range bootstrapSQL {
		if _, err := s.pool.Exec(sql); err != nil {
			return errors.Wrapf(err, "bootstrap %s", catalog.RelationName)
		}
	}
	logrus.WithField("relation", catalog.RelationName).Infoln("catalog bootstrapped")
	return nil
}

// IsAlive check database connection problems.
func (s *CatalogStore) IsAlive() bool {
	conn, err := s.pool.Acquire()
	if err != nil {
		return false
	}
	defer s.pool.Release(conn)
	return conn.IsAlive()
}

// Close database connections.
func (s *CatalogStore) Close() {
	s.pool.Close()
}

var bootstrapSQL = []string{
	`CREATE TABLE IF NOT EXISTS ` + catalog.RelationName + ` (
  ic_relid    oid  NOT NULL,
  ic_attname  name NOT NULL,
  ic_attnum   int2 NOT NULL,
  ic_atttypid oid  NOT NULL,
  ic_visible  bool NOT NULL DEFAULT false,
  ic_epoch    oid  NOT NULL DEFAULT 0
)`,
	`ALTER TABLE ` + catalog.RelationName + ` ADD COLUMN IF NOT EXISTS ic_epoch oid NOT NULL DEFAULT 0`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + catalog.IndexName + ` ON ` + catalog.RelationName + ` (ic_relid, ic_attname)`,
}
