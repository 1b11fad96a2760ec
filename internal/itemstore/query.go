package itemstore

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/soup/internal/predicate"
	"github.com/onnwee/soup/internal/soup"
)

// itemColumns must stay in the order scanItem reads them.
const itemColumns = `i.kind, i.id, i.owner_id, i.title, i.project_id, i.created_at, i.updated_at,
	h.viewed_at, i.file_type, i.model, i.message_count`

// grantedProjects expands the user's project grants ($1) to every descendant
// project. UNION terminates on cyclic parent links.
const grantedProjects = `WITH RECURSIVE granted_projects (id) AS (
	SELECT p.id FROM projects p
	JOIN entity_grants g ON g.entity_id = p.id
	WHERE g.user_id = $1
	UNION
	SELECT c.id FROM projects c
	JOIN granted_projects gp ON c.parent_id = gp.id
)
`

// byteOrder makes ID comparisons match Go string ordering regardless of the
// database collation.
const byteOrder = `COLLATE "C"`

type builder struct {
	args  []any
	conds []string
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where(format string, a ...any) {
	b.conds = append(b.conds, fmt.Sprintf(format, a...))
}

// visibleTo starts a query for userID, which is always $1, and adds the
// share-permission condition for scope. It returns the WITH prefix the
// condition depends on.
func (b *builder) visibleTo(userID string, scope soup.Scope) string {
	user := b.arg(userID)
	direct := fmt.Sprintf("EXISTS (SELECT 1 FROM entity_grants g WHERE g.user_id = %s AND g.entity_id = i.id)", user)
	if scope != soup.ScopeExpanded {
		b.where("%s", direct)
		return ""
	}
	b.where("(%s OR i.project_id IN (SELECT id FROM granted_projects))", direct)
	return grantedProjects
}

func (b *builder) matching(expr predicate.Expr) {
	if expr.Empty() {
		return
	}
	cond, args := expr.SQL("i", len(b.args)+1)
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
}

func (b *builder) sql(with, tail string) string {
	return with + "SELECT " + itemColumns + `
FROM soup_items i
LEFT JOIN view_history h ON h.user_id = $1 AND h.entity_id = i.id
WHERE ` + strings.Join(b.conds, "\n  AND ") + tail
}

func sortColumn(key soup.SortKey) string {
	switch key {
	case soup.SortCreatedAt:
		return "i.created_at"
	case soup.SortViewedAt:
		return "COALESCE(h.viewed_at, 'epoch'::timestamptz)"
	default:
		return "i.updated_at"
	}
}

// sortQuery renders a keyset page in (sort value DESC, id DESC) order.
func sortQuery(q soup.SortQuery, expr predicate.Expr) (string, []any) {
	b := &builder{}
	with := b.visibleTo(q.UserID, q.Scope)
	b.matching(expr)

	if len(q.Exclude.IDs) > 0 {
		b.where("i.id <> ALL(%s)", b.arg(pq.Array(q.Exclude.IDs)))
	}
	if q.Exclude.Scored {
		b.where("NOT EXISTS (SELECT 1 FROM frecency_index f WHERE f.user_id = $1 AND f.entity_id = i.id)")
	}

	col := sortColumn(q.Sort)
	if q.After != nil {
		value, id := b.arg(q.After.Value), b.arg(q.After.ID)
		b.where("(%[1]s < %[2]s OR (%[1]s = %[2]s AND i.id %[4]s < %[3]s))", col, value, id, byteOrder)
	}

	tail := fmt.Sprintf("\nORDER BY %s DESC, i.id %s DESC\nLIMIT %s", col, byteOrder, b.arg(q.Limit))
	return b.sql(with, tail), b.args
}

// idsQuery renders the visible subset of q.IDs.
func idsQuery(q soup.IDQuery) (string, []any) {
	b := &builder{}
	with := b.visibleTo(q.UserID, q.Scope)
	b.where("i.id = ANY(%s)", b.arg(pq.Array(q.IDs)))
	return b.sql(with, ""), b.args
}
