package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
)

type groupsPort struct {
	exec core.DBExecutor
}

var _ competency.Groups = (*groupsPort)(nil) // interface compliance check

func NewGroups(exec core.DBExecutor) competency.Groups {
	return &groupsPort{exec: exec}
}

// SubmissionGroup returns the lowest-ID course group the user belongs
// to for the module's course; 0 when there is none.
func (g *groupsPort) SubmissionGroup(ctx context.Context, cmID, userID int64) (int64, error) {
	query := `
		SELECT COALESCE(MIN(gr.id), 0)
		FROM groups gr
		JOIN group_members gm ON gm.group_id = gr.id
		WHERE gm.user_id = $2
		  AND gr.course_id = (SELECT course_id FROM course_modules WHERE id = $1)`
	var groupID int64
	err := g.exec.QueryRowContext(ctx, query, cmID, userID).Scan(&groupID)
	return groupID, errors.Wrap(err, "resolving submission group")
}

func (g *groupsPort) ActiveMembers(ctx context.Context, groupID int64) ([]int64, error) {
	query := `
		SELECT gm.user_id
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1 AND u.is_active
		ORDER BY gm.user_id ASC`
	rows, err := g.exec.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "listing group members")
	}
	defer func() { _ = rows.Close() }()

	var members []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "listing group members")
		}
		members = append(members, id)
	}
	return members, errors.Wrap(rows.Err(), "listing group members")
}
