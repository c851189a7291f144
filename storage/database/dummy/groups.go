package dummydb

import (
	"context"

	"github.com/trezcool/umahiri/core/competency"
)

type groupsPort struct {
	db *DB
}

var _ competency.Groups = (*groupsPort)(nil) // interface compliance check

func NewGroups(db *DB) competency.Groups {
	return &groupsPort{db: db}
}

// SubmissionGroup returns the first course group the user belongs to;
// submission groups are course groups in this model.
func (g *groupsPort) SubmissionGroup(_ context.Context, cmID, userID int64) (int64, error) {
	g.db.RLock()
	defer g.db.RUnlock()

	cm, ok := g.db.courseModules[cmID]
	if !ok {
		return 0, competency.ErrCourseModuleNotFound
	}
	var best int64
	for id, grp := range g.db.groups {
		if grp.courseID != cm.CourseID {
			continue
		}
		for _, member := range grp.members {
			if member == userID && (best == 0 || id < best) {
				best = id
			}
		}
	}
	return best, nil
}

func (g *groupsPort) ActiveMembers(_ context.Context, groupID int64) ([]int64, error) {
	g.db.RLock()
	defer g.db.RUnlock()

	grp, ok := g.db.groups[groupID]
	if !ok {
		return nil, nil
	}
	members := make([]int64, len(grp.members))
	copy(members, grp.members)
	return members, nil
}
