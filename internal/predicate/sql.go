package predicate

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// SQL renders e as a boolean condition over a row exposing the columns kind,
// owner_id, project_id, updated_at and title, qualified by alias. Placeholders
// are numbered from argStart. The empty expression renders as "TRUE".
func (e Expr) SQL(alias string, argStart int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", argStart+len(args)-1)
	}

	if len(e.Kinds) > 0 {
		kinds := make([]string, len(e.Kinds))
		for i, k := range e.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, fmt.Sprintf("%s = ANY(%s)", col("kind"), arg(pq.Array(kinds))))
	}
	if len(e.OwnerIDs) > 0 {
		conds = append(conds, fmt.Sprintf("%s = ANY(%s)", col("owner_id"), arg(pq.Array(e.OwnerIDs))))
	}
	if e.ProjectID != nil {
		conds = append(conds, fmt.Sprintf("%s = %s", col("project_id"), arg(*e.ProjectID)))
	}
	if e.UpdatedAfter != nil {
		conds = append(conds, fmt.Sprintf("%s > %s", col("updated_at"), arg(*e.UpdatedAfter)))
	}
	if e.TitleContains != "" {
		conds = append(conds, fmt.Sprintf("strpos(lower(%s), lower(%s)) > 0", col("title"), arg(e.TitleContains)))
	}

	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}
