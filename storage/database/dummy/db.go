package dummydb

import (
	"sync"

	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
)

type (
	// DB is the in-memory database backing the dummy repositories. The
	// fixture helpers below let tests build course state directly.
	DB struct {
		sync.RWMutex

		users         map[int64]*user.User
		courseModules map[int64]*competency.CourseModule
		assignments   map[int64]*competency.Assignment // by course module ID
		scales        map[int64]*competency.Scale
		competencies  map[int64]*competency.Competency
		links         []link
		enrolments    []enrolment
		groups        map[int64]*group
		restrictions  map[int64]int64 // course module ID -> required group ID
		ratings       map[int64]*competency.Rating
		userComps     map[int64]*competency.UserCompetency
		evidence      map[int64]*competency.Evidence

		pkCount int64
	}

	// link ties a competency to a course module at a sort position.
	link struct {
		cmID         int64
		competencyID int64
		sortOrder    int
	}

	enrolment struct {
		courseID  int64
		userID    int64
		role      string // user.RoleTeacher | user.RoleStudent
		suspended bool
	}

	group struct {
		id       int64
		courseID int64
		members  []int64
	}
)

func Open() (*DB, error) {
	db := &DB{
		users:         make(map[int64]*user.User),
		courseModules: make(map[int64]*competency.CourseModule),
		assignments:   make(map[int64]*competency.Assignment),
		scales:        make(map[int64]*competency.Scale),
		competencies:  make(map[int64]*competency.Competency),
		groups:        make(map[int64]*group),
		restrictions:  make(map[int64]int64),
		ratings:       make(map[int64]*competency.Rating),
		userComps:     make(map[int64]*competency.UserCompetency),
		evidence:      make(map[int64]*competency.Evidence),
	}
	return db, nil
}

func (db *DB) nextPK() int64 {
	db.pkCount++
	return db.pkCount
}

// ------------------------------------------------------------------ //
// fixture helpers

func (db *DB) AddCourseModule(cm competency.CourseModule) competency.CourseModule {
	db.Lock()
	defer db.Unlock()
	if cm.ID == 0 {
		cm.ID = db.nextPK()
	}
	db.courseModules[cm.ID] = &cm
	return cm
}

func (db *DB) SetAssignment(cmID int64, teamSubmission bool) {
	db.Lock()
	defer db.Unlock()
	db.assignments[cmID] = &competency.Assignment{CourseModuleID: cmID, TeamSubmission: teamSubmission}
}

func (db *DB) AddScale(s competency.Scale) competency.Scale {
	db.Lock()
	defer db.Unlock()
	if s.ID == 0 {
		s.ID = db.nextPK()
	}
	db.scales[s.ID] = &s
	return s
}

func (db *DB) AddCompetency(c competency.Competency) competency.Competency {
	db.Lock()
	defer db.Unlock()
	if c.ID == 0 {
		c.ID = db.nextPK()
	}
	db.competencies[c.ID] = &c
	return c
}

// LinkCompetency attaches a competency to a course module; sortOrder
// drives the listing order.
func (db *DB) LinkCompetency(cmID, competencyID int64, sortOrder int) {
	db.Lock()
	defer db.Unlock()
	db.links = append(db.links, link{cmID: cmID, competencyID: competencyID, sortOrder: sortOrder})
}

func (db *DB) Enrol(courseID, userID int64, role string, suspended bool) {
	db.Lock()
	defer db.Unlock()
	db.enrolments = append(db.enrolments, enrolment{courseID: courseID, userID: userID, role: role, suspended: suspended})
}

func (db *DB) AddGroup(courseID int64, memberIDs ...int64) int64 {
	db.Lock()
	defer db.Unlock()
	id := db.nextPK()
	db.groups[id] = &group{id: id, courseID: courseID, members: memberIDs}
	return id
}

// RestrictToGroup makes a course module available only to the group's
// members.
func (db *DB) RestrictToGroup(cmID, groupID int64) {
	db.Lock()
	defer db.Unlock()
	db.restrictions[cmID] = groupID
}
