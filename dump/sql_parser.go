package dump

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	sp "github.com/xwb1989/sqlparser"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/dump/handler"
	"github.com/teamlint/pg-implicit/dump/handler/sqlfile"
	"github.com/teamlint/pg-implicit/types"
)

const insertPrefix = "INSERT"

// sqlParser sql handler 导出文件解析器
type sqlParser struct {
	r   io.Reader
	buf bytes.Buffer
}

func newSQLParser(r io.Reader) *sqlParser {
	return &sqlParser{r: r}
}

// Parse 解析sql文件,使用fn进行处理
func (p *sqlParser) Parse(fn func(rec *handler.Record) error) error {
	rb := bufio.NewReaderSize(p.r, 1024*16)
	for {
		line, err := rb.ReadString('\n')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "read dump")
		}
		eof := err == io.EOF
		if line != "" {
			if rec := p.parseSQL(line); rec != nil {
				if err := fn(rec); err != nil {
					return err
				}
			}
		}
		if eof {
			// 文件末尾未以分号结束的语句
			if rec := p.parseRecord(); rec != nil {
				return fn(rec)
			}
			return nil
		}
	}
}

// parseSQL 缓存语句行, 语句以分号结束时解析
func (p *sqlParser) parseSQL(line string) *handler.Record {
	if p.buf.Len() == 0 {
		// 忽略注释和空行
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			if line == sqlfile.CompleteStatement {
				logrus.WithField("dump.complete.statement", "end").Debugln(line)
			}
			return nil
		}
		if !strings.HasPrefix(strings.ToUpper(trimmed), insertPrefix) {
			logrus.WithField("line", trimmed).Debugln("not an insert statement, skipped")
			return nil
		}
	}
	p.buf.WriteString(line)
	if !strings.HasSuffix(strings.TrimSpace(line), ";") {
		return nil
	}
	return p.parseRecord()
}

// parseRecord 解析缓存的 INSERT 语句
func (p *sqlParser) parseRecord() *handler.Record {
	s := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	if s == "" {
		return nil
	}
	stmt, err := sp.Parse(strings.TrimSuffix(s, ";"))
	if err != nil {
		logrus.WithError(err).Warn("parseRecord")
		return nil
	}
	row, ok := stmt.(*sp.Insert)
	if !ok || row.Table.Name.String() != catalog.ViewName {
		return nil
	}
	values, ok := row.Rows.(sp.Values)
	if !ok || len(values) == 0 {
		return nil
	}
	data := map[string]interface{}{}
	for i, col := range values[0] {
		if i >= len(row.Columns) {
			break
		}
		name := row.Columns[i].Lowered()
		switch val := col.(type) {
		case *sp.SQLVal:
			data[name] = parseSQLVal(val)
		case sp.BoolVal:
			data[name] = bool(val)
		case *sp.NullVal:
			data[name] = nil
		}
	}
	rec := &handler.Record{}
	if v, ok := data["table_oid"].(int64); ok {
		rec.TableID = types.Oid(v)
	}
	rec.TableName, _ = data["table_name"].(string)
	rec.ColumnName, _ = data["column_name"].(string)
	if v, ok := data["attnum"].(int64); ok {
		rec.AttNum = int16(v)
	}
	rec.Visible, _ = data["visible"].(bool)
	if rec.TableName == "" || rec.ColumnName == "" {
		logrus.WithField("statement", s).Warnln("incomplete dump record")
		return nil
	}
	rec.ID = handler.DocID(rec.TableID, rec.ColumnName)
	logrus.WithField("ID", rec.ID).
		WithField("table", rec.TableName).
		Debugln("record parsed")
	return rec
}

func parseSQLVal(val *sp.SQLVal) interface{} {
	switch val.Type {
	case sp.StrVal:
		return string(val.Val)
	case sp.IntVal:
		ret, _ := strconv.ParseInt(string(val.Val), 10, 64)
		return ret
	case sp.FloatVal:
		ret, _ := strconv.ParseFloat(string(val.Val), 64)
		return ret
	}
	return string(val.Val)
}
