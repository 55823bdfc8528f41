package executor

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/teamlint/pg-implicit/types"
)

// Result outcome of one statement.
type Result struct {
	// Tag command tag, e.g. "INSERT 0 1"
	Tag          string
	Columns      []string
	Rows         [][]types.Datum
	RowsAffected int64
}

// String renders the result the way psql prints it.
func (r *Result) String() string {
	var b strings.Builder
	if len(r.Columns) > 0 {
		w := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.Debug)
		fmt.Fprintln(w, strings.Join(r.Columns, "\t"))
		for _, row := range r.Rows {
			cells := make([]string, len(row))
			for i, d := range row {
				cells[i] = types.Format(d)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		w.Flush()
		fmt.Fprintf(&b, "(%d rows)\n", len(r.Rows))
		return b.String()
	}
	b.WriteString(r.Tag)
	b.WriteByte('\n')
	return b.String()
}
