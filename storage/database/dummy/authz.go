package dummydb

import (
	"context"

	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
)

// authorizer resolves capabilities from global roles and course
// enrolments, mirroring the SQL implementation: admins hold everything,
// course teachers hold the grading/reporting capabilities, active
// students may view.
type authorizer struct {
	db *DB
}

var _ competency.Authorizer = (*authorizer)(nil) // interface compliance check

func NewAuthorizer(db *DB) competency.Authorizer {
	return &authorizer{db: db}
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

func (a *authorizer) HasAnyCapability(_ context.Context, userID int64, ref competency.ContextRef, caps ...competency.Capability) (bool, error) {
	a.db.RLock()
	defer a.db.RUnlock()

	usr, ok := a.db.users[userID]
	if !ok {
		return false, nil
	}
	if usr.IsAdmin() {
		return true, nil
	}

	courseID, scoped := a.resolveCourse(ref)
	for _, enr := range a.db.enrolments {
		if enr.userID != userID {
			continue
		}
		if scoped && enr.courseID != courseID {
			continue
		}
		var granted map[competency.Capability]bool
		switch {
		case enr.role == user.RoleTeacher && !enr.suspended:
			granted = teacherCaps
		case enr.role == user.RoleStudent && !enr.suspended:
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
	return false, nil
}

// resolveCourse maps a context ref to a course scope. Competency and
// user contexts are global: any qualifying enrolment grants them.
func (a *authorizer) resolveCourse(ref competency.ContextRef) (int64, bool) {
	switch ref.Level {
	case competency.ContextCourse:
		return ref.ID, true
	case competency.ContextCourseModule:
		if cm, ok := a.db.courseModules[ref.ID]; ok {
			return cm.CourseID, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (a *authorizer) IsGradableEnrolled(_ context.Context, courseID, userID int64) (bool, error) {
	a.db.RLock()
	defer a.db.RUnlock()

	for _, enr := range a.db.enrolments {
		if enr.courseID == courseID && enr.userID == userID && enr.role == user.RoleStudent && !enr.suspended {
			return true, nil
		}
	}
	return false, nil
}
