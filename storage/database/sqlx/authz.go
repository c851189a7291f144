package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
)

// authorizer resolves capabilities from global roles and course
// enrolments: admins hold every capability, course teachers hold the
// grading and reporting set, active students may view. Competency
// contexts are global; any qualifying enrolment grants them.
type authorizer struct {
	exec core.DBExecutor
}

var _ competency.Authorizer = (*authorizer)(nil) // interface compliance check

func NewAuthorizer(exec core.DBExecutor) competency.Authorizer {
	return &authorizer{exec: exec}
}

var teacherCaps = map[competency.Capability]bool{
	competency.CapCourseCompetencyView:   true,
	competency.CapCourseCompetencyManage: true,
	competency.CapCompetencyView:         true,
	competency.CapCompetencyManage:       true,
	competency.CapCompetencyGrade:        true,
	competency.CapUserCompetencyView:     true,
	competency.CapViewSuspendedUsers:     true,
}

var studentCaps = map[competency.Capability]bool{
	competency.CapCourseCompetencyView: true,
	competency.CapCompetencyView:       true,
}

func (a *authorizer) HasAnyCapability(ctx context.Context, userID int64, ref competency.ContextRef, caps ...competency.Capability) (bool, error) {
	var isAdmin bool
	query := `SELECT EXISTS (SELECT 1 FROM users, UNNEST(roles) r WHERE id = $1 AND r LIKE $2)`
	if err := a.exec.QueryRowContext(ctx, query, userID, user.RoleAdmin+"%").Scan(&isAdmin); err != nil {
		return false, errors.Wrap(err, "checking admin role")
	}
	if isAdmin {
		return true, nil
	}

	query = `SELECT role FROM enrolments WHERE user_id = $1 AND NOT suspended`
	args := []interface{}{userID}
	switch ref.Level {
	case competency.ContextCourse:
		query += ` AND course_id = $2`
		args = append(args, ref.ID)
	case competency.ContextCourseModule:
		query += ` AND course_id = (SELECT course_id FROM course_modules WHERE id = $2)`
		args = append(args, ref.ID)
	}

	rows, err := a.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "checking enrolments")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var role string
		if err = rows.Scan(&role); err != nil {
			return false, errors.Wrap(err, "checking enrolments")
		}
		var granted map[competency.Capability]bool
		switch role {
		case user.RoleTeacher:
			granted = teacherCaps
		case user.RoleStudent:
			granted = studentCaps
		default:
			continue
		}
		for _, c := range caps {
			if granted[c] {
				return true, nil
			}
		}
	}
	return false, errors.Wrap(rows.Err(), "checking enrolments")
}

func (a *authorizer) IsGradableEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	var enrolled bool
	query := `SELECT EXISTS (
		SELECT 1 FROM enrolments WHERE course_id = $1 AND user_id = $2 AND role = $3 AND NOT suspended
	)`
	err := a.exec.QueryRowContext(ctx, query, courseID, userID, user.RoleStudent).Scan(&enrolled)
	return enrolled, errors.Wrap(err, "checking gradable enrolment")
}
