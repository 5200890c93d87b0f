package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments for the
// paginated list queries every store exposes.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

// where appends " AND <cond>" where cond contains a single %s placeholder for
// the next positional parameter.
func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, fmt.Sprintf("$%d", len(q.args))))
}

// page applies the time window on column tsCol, the ordering and limit/offset.
func (q *listQuery) page(tsCol string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(tsCol+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where(tsCol+" <= %s", *opts.Until)
	}
	q.sb.WriteString(" ORDER BY " + tsCol + " DESC")
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(q.args)))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(q.args)))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
