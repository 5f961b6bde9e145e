package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Where accumulates AND-ed predicates written with ? bind vars. Slice
// arguments used with IN (?) are expanded by Build.
type Where struct {
	clauses []string
	args    []interface{}
}

// NewTenantWhere starts a predicate list scoped to a tenant. The explicit
// tenant wins over the one carried by ctx; with neither the query spans all
// tenants, which only cross tenant jobs rely on.
func NewTenantWhere(ctx context.Context, explicitTenantID string) *Where {
	w := &Where{}
	tenantID := explicitTenantID
	if tenantID == "" {
		tenantID = types.GetTenantID(ctx)
	}
	if tenantID != "" {
		w.Add("tenant_id = ?", tenantID)
	}
	return w.Add("status = ?", types.StatusPublished)
}

// Add appends a predicate
func (w *Where) Add(clause string, args ...interface{}) *Where {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
	return w
}

// AddIf appends a predicate when cond holds
func (w *Where) AddIf(cond bool, clause string, args ...interface{}) *Where {
	if cond {
		return w.Add(clause, args...)
	}
	return w
}

// Build renders "<base> WHERE ... <suffix>" with postgres bind vars
func (w *Where) Build(q Querier, base, suffix string, extra ...interface{}) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString(base)
	if len(w.clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(w.clauses, " AND "))
	}
	if suffix != "" {
		sb.WriteString(" ")
		sb.WriteString(suffix)
	}

	query, args, err := sqlx.In(sb.String(), append(append([]interface{}{}, w.args...), extra...)...)
	if err != nil {
		return "", nil, ierr.WithError(err).
			WithHint("Failed to build query").
			Mark(ierr.ErrDatabase)
	}
	return q.Rebind(query), args, nil
}

// Page renders the ORDER BY / LIMIT / OFFSET suffix of a list query
func Page(filter *types.QueryFilter, orderColumn string) string {
	order := "DESC"
	if filter.GetOrder() == types.OrderAsc {
		order = "ASC"
	}
	suffix := "ORDER BY " + orderColumn + " " + order + ", id " + order
	if filter != nil && !filter.IsUnlimited() {
		suffix += " LIMIT " + strconv.Itoa(filter.GetLimit()) + " OFFSET " + strconv.Itoa(filter.GetOffset())
	}
	return suffix
}
