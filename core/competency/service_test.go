package competency_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
	dummydb "github.com/trezcool/umahiri/storage/database/dummy"
)

const courseID = int64(100)

type fixture struct {
	db     *dummydb.DB
	svc    competency.Service
	events *dummydb.EventRecorder

	teacher  user.User
	student1 user.User
	student2 user.User
	outsider user.User

	cm    competency.CourseModule
	scale competency.Scale
	comps []competency.Competency
}

// newFixture builds a course with one team-capable activity, a 4-value
// scale where only the first value is not proficient, six linked
// competencies, one teacher and two students.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := dummydb.Open()
	require.NoError(t, err)
	usrRepo := dummydb.NewUserRepository(db)

	addUser := func(name string, roles ...string) user.User {
		usr, err := usrRepo.CreateUser(ctx, user.User{
			Name:     name,
			Username: name,
			Email:    name + "@example.test",
			IsActive: true,
			Roles:    roles,
		})
		require.NoError(t, err)
		return usr
	}

	fix := &fixture{db: db, events: dummydb.NewEventRecorder()}
	fix.teacher = addUser("teacher", user.RoleTeacher)
	fix.student1 = addUser("student1", user.RoleStudent)
	fix.student2 = addUser("student2", user.RoleStudent)
	fix.outsider = addUser("outsider", user.RoleStudent)

	db.Enrol(courseID, fix.teacher.ID, user.RoleTeacher, false)
	db.Enrol(courseID, fix.student1.ID, user.RoleStudent, false)
	db.Enrol(courseID, fix.student2.ID, user.RoleStudent, false)

	fix.cm = db.AddCourseModule(competency.CourseModule{
		CourseID: courseID,
		Name:     "Team essay",
		ModName:  "assign",
		Visible:  true,
	})
	fix.scale = db.AddScale(competency.Scale{
		Name: "Proficiency scale",
		Items: []competency.ScaleItem{
			{Name: "Beginner", Proficient: false},
			{Name: "Competent", Proficient: true},
			{Name: "Proficient", Proficient: true},
			{Name: "Expert", Proficient: true},
		},
	})
	for i := 1; i <= 6; i++ {
		comp := db.AddCompetency(competency.Competency{
			ShortName: fmt.Sprintf("C%d", i),
			ScaleID:   fix.scale.ID,
		})
		db.LinkCompetency(fix.cm.ID, comp.ID, i)
		fix.comps = append(fix.comps, comp)
	}

	fix.svc = competency.NewService(
		nil, // no sql DB; dummy repos are not transactional
		dummydb.NewCompetencyRepository(db),
		dummydb.NewAuthorizer(db),
		dummydb.NewGroups(db),
		fix.events,
		user.NewServiceMock(usrRepo, nil),
		nil, // no mail
		&core.Config{FrontendBaseURL: "https://app.example.test"},
		nil,
	)
	return fix
}

func TestGrade(t *testing.T) {
	ctx := context.Background()

	t.Run("creates rating, evidence and event", func(t *testing.T) {
		fix := newFixture(t)

		evs, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 2, "good work", false)
		require.NoError(t, err)
		require.Len(t, evs, 1)

		ev := evs[fix.student1.ID]
		assert.Equal(t, competency.ActionOverride, ev.Action)
		assert.Equal(t, competency.DescKeyManualOverride, ev.DescKey)
		assert.Equal(t, 2, ev.Grade.Int)
		assert.Equal(t, "good work", ev.Note.String)
		assert.Equal(t, fix.teacher.ID, ev.ActingUserID.Int64)
		assert.Contains(t, ev.URL, fmt.Sprintf("/course-modules/%d", fix.cm.ID))

		rat, err := fix.svc.GetRating(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 2, rat.Grade.Int)
		assert.True(t, rat.Proficiency.Bool)
		assert.Equal(t, fix.teacher.ID, rat.UpdatedBy.Int64)

		require.Len(t, fix.events.Rated, 1)
		assert.Equal(t, rat.ID, fix.events.Rated[0].Rating.ID)
		assert.Equal(t, fix.teacher.ID, fix.events.Rated[0].ActingUserID)
	})

	t.Run("regrading overwrites the rating but appends evidence", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 1, "", false)
		require.NoError(t, err)
		_, err = fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 4, "revised", false)
		require.NoError(t, err)

		ratings, err := fix.svc.ListUserRatings(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, ratings[0].Grade.Int)
		assert.True(t, ratings[0].Proficiency.Bool)

		evs, err := fix.svc.ListEvidence(ctx, fix.teacher.ID, competency.EvidenceFilter{
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[0].ID,
			CourseModuleID: fix.cm.ID,
		})
		require.NoError(t, err)
		assert.Len(t, evs, 2)
	})

	t.Run("invalid grade is rejected", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 5, "", false)
		assert.True(t, core.IsValidation(err))

		_, err = fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 0, "", false)
		assert.True(t, core.IsValidation(err))
	})

	t.Run("students cannot grade", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.student1.ID, fix.cm.ID, fix.student2.ID, fix.comps[0].ID, 2, "", false)
		assert.True(t, core.IsPermission(err))
	})

	t.Run("unenrolled users are not gradable", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.outsider.ID, fix.comps[0].ID, 2, "", false)
		assert.True(t, core.IsDomain(err))
	})

	t.Run("unlinked competency is rejected", func(t *testing.T) {
		fix := newFixture(t)
		unlinked := fix.db.AddCompetency(competency.Competency{ShortName: "X", ScaleID: fix.scale.ID})

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, unlinked.ID, 2, "", false)
		assert.True(t, core.IsDomain(err))
	})

	t.Run("unknown course module", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, 99999, fix.student1.ID, fix.comps[0].ID, 2, "", false)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestGradeGroupFanOut(t *testing.T) {
	ctx := context.Background()

	t.Run("team submission grades the whole submission group", func(t *testing.T) {
		fix := newFixture(t)
		fix.db.SetAssignment(fix.cm.ID, true)
		fix.db.AddGroup(courseID, fix.student1.ID, fix.student2.ID)

		evs, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 3, "team effort", true)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Contains(t, evs, fix.student1.ID)
		assert.Contains(t, evs, fix.student2.ID)

		for _, sID := range []int64{fix.student1.ID, fix.student2.ID} {
			rat, err := fix.svc.GetRating(ctx, fix.teacher.ID, fix.cm.ID, sID, fix.comps[0].ID)
			require.NoError(t, err)
			assert.Equal(t, 3, rat.Grade.Int)
		}
		assert.Len(t, fix.events.Rated, 2)
	})

	t.Run("no fan-out without team submission", func(t *testing.T) {
		fix := newFixture(t)
		fix.db.SetAssignment(fix.cm.ID, false)
		fix.db.AddGroup(courseID, fix.student1.ID, fix.student2.ID)

		evs, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 3, "", true)
		require.NoError(t, err)
		assert.Len(t, evs, 1)
	})

	t.Run("no group falls back to the single user", func(t *testing.T) {
		fix := newFixture(t)
		fix.db.SetAssignment(fix.cm.ID, true)

		evs, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 3, "", true)
		require.NoError(t, err)
		assert.Len(t, evs, 1)
		assert.Contains(t, evs, fix.student1.ID)
	})
}

func TestListUserRatings(t *testing.T) {
	ctx := context.Background()

	t.Run("synthesizes and persists missing ratings in link order", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[2].ID, 2, "", false)
		require.NoError(t, err)

		ratings, err := fix.svc.ListUserRatings(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID)
		require.NoError(t, err)
		require.Len(t, ratings, 6)
		for i, rat := range ratings {
			assert.Equal(t, fix.comps[i].ID, rat.CompetencyID)
			assert.NotZero(t, rat.ID)
			if i == 2 {
				assert.Equal(t, 2, rat.Grade.Int)
			} else {
				assert.False(t, rat.IsGraded())
			}
		}

		// the synthesized blanks were persisted; a second listing returns them
		again, err := fix.svc.ListUserRatings(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID)
		require.NoError(t, err)
		for i := range ratings {
			assert.Equal(t, ratings[i].ID, again[i].ID)
		}
	})

	t.Run("students can list their own", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.ListUserRatings(ctx, fix.student1.ID, fix.cm.ID, fix.student1.ID)
		assert.NoError(t, err)
	})

	t.Run("students cannot list others", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.ListUserRatings(ctx, fix.student1.ID, fix.cm.ID, fix.student2.ID)
		assert.True(t, core.IsPermission(err))
	})

	t.Run("unenrolled target is a domain error", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.ListUserRatings(ctx, fix.teacher.ID, fix.cm.ID, fix.outsider.ID)
		assert.True(t, core.IsDomain(err))
	})
}

// The reference scenario: six competencies, the first four graded 1-4 on
// a scale where only grade 1 is not proficient.
func TestCountsAndLeastProficient(t *testing.T) {
	ctx := context.Background()
	fix := newFixture(t)

	for i, grade := range []int{1, 2, 3, 4} {
		_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[i].ID, grade, "", false)
		require.NoError(t, err)
	}

	count, err := fix.svc.CountCompetencies(ctx, fix.teacher.ID, fix.cm.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	proficient, err := fix.svc.CountProficient(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, proficient)

	stats, err := fix.svc.Statistics(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.CompetencyCount)
	assert.Equal(t, 3, stats.ProficientCount)

	// never-rated and not-proficient competencies all sum to zero; ties
	// break by descending competency ID
	least, err := fix.svc.LeastProficient(ctx, fix.teacher.ID, fix.cm.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, least, 2)
	assert.Equal(t, fix.comps[5].ID, least[0].ID)
	assert.Equal(t, fix.comps[4].ID, least[1].ID)

	// paging past the zero-sum group reaches the graded ones
	rest, err := fix.svc.LeastProficient(ctx, fix.teacher.ID, fix.cm.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, rest, 4)
	assert.Equal(t, fix.comps[0].ID, rest[0].ID) // graded 1, not proficient
}

func TestViewed(t *testing.T) {
	ctx := context.Background()
	fix := newFixture(t)

	err := fix.svc.Viewed(ctx, fix.student1.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
	require.NoError(t, err)

	require.Len(t, fix.events.Viewed, 1)
	evt := fix.events.Viewed[0]
	assert.Equal(t, fix.student1.ID, evt.ActingUserID)
	assert.Equal(t, fix.student1.ID, evt.Rating.UserID)
	assert.NotZero(t, evt.Rating.ID) // the blank association was created

	// no evidence is written by viewing
	evs, err := fix.svc.ListEvidence(ctx, fix.student1.ID, competency.EvidenceFilter{
		UserID:         fix.student1.ID,
		CompetencyID:   fix.comps[0].ID,
		CourseModuleID: fix.cm.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestListEvidence(t *testing.T) {
	ctx := context.Background()

	t.Run("no user competency means empty, not an error", func(t *testing.T) {
		fix := newFixture(t)

		evs, err := fix.svc.ListEvidence(ctx, fix.teacher.ID, competency.EvidenceFilter{
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[0].ID,
			CourseModuleID: fix.cm.ID,
		})
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("unknown sort column is rejected", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.ListEvidence(ctx, fix.teacher.ID, competency.EvidenceFilter{
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[0].ID,
			CourseModuleID: fix.cm.ID,
			Sort:           "note; DROP TABLE evidence",
		})
		assert.True(t, core.IsValidation(err))
	})
}

func TestGradableUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("lists gradable enrolments", func(t *testing.T) {
		fix := newFixture(t)

		users, err := fix.svc.GradableUsers(ctx, fix.teacher.ID, fix.cm.ID, 0, false)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, fix.student1.ID, users[0].ID)
		assert.Equal(t, fix.student2.ID, users[1].ID)
	})

	t.Run("availability restriction filters", func(t *testing.T) {
		fix := newFixture(t)
		grpID := fix.db.AddGroup(courseID, fix.student2.ID)
		fix.db.RestrictToGroup(fix.cm.ID, grpID)

		users, err := fix.svc.GradableUsers(ctx, fix.teacher.ID, fix.cm.ID, 0, false)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, fix.student2.ID, users[0].ID)
	})

	t.Run("only one stops early", func(t *testing.T) {
		fix := newFixture(t)

		users, err := fix.svc.GradableUsers(ctx, fix.teacher.ID, fix.cm.ID, 0, true)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("students may not list", func(t *testing.T) {
		fix := newFixture(t)

		_, err := fix.svc.GradableUsers(ctx, fix.student1.ID, fix.cm.ID, 0, false)
		assert.True(t, core.IsPermission(err))
	})
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	fix := newFixture(t)
	fix.db.SetAssignment(fix.cm.ID, true)

	_, err := fix.svc.Grade(ctx, fix.teacher.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID, 2, "solid", false)
	require.NoError(t, err)

	sum, err := fix.svc.Summary(ctx, fix.student1.ID, fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fix.comps[0].ID, sum.Competency.ID)
	assert.Equal(t, fix.scale.ID, sum.Scale.ID)
	assert.Equal(t, fix.cm.ID, sum.CourseModule.ID)
	assert.Equal(t, 2, sum.Rating.Grade.Int)
	assert.Len(t, sum.Evidence, 1)
	assert.True(t, sum.CanApplyToGroup)
}

func TestCourseModuleListings(t *testing.T) {
	ctx := context.Background()
	fix := newFixture(t)

	// a second, later activity sharing the first competency
	cm2 := fix.db.AddCourseModule(competency.CourseModule{
		CourseID: courseID,
		Name:     "Quiz",
		ModName:  "quiz",
		Visible:  true,
		AddedAt:  fix.cm.AddedAt.Add(1),
	})
	fix.db.LinkCompetency(cm2.ID, fix.comps[0].ID, 1)

	// and one in a course the teacher is not enrolled in
	other := fix.db.AddCourseModule(competency.CourseModule{CourseID: 200, Name: "Other", ModName: "assign", Visible: true})
	fix.db.LinkCompetency(other.ID, fix.comps[0].ID, 1)

	cms, err := fix.svc.CourseModulesWithCompetencies(ctx, fix.teacher.ID, courseID)
	require.NoError(t, err)
	require.Len(t, cms, 2)
	assert.Equal(t, fix.cm.ID, cms[0].ID)
	assert.Equal(t, cm2.ID, cms[1].ID)

	ids, err := fix.svc.ListCourseModulesUsingCompetency(ctx, fix.teacher.ID, fix.comps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{fix.cm.ID, cm2.ID}, ids)
}

func TestIsAvailableForUser(t *testing.T) {
	ctx := context.Background()
	fix := newFixture(t)

	ok, err := fix.svc.IsAvailableForUser(ctx, fix.cm.ID, fix.student1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	grpID := fix.db.AddGroup(courseID, fix.student2.ID)
	fix.db.RestrictToGroup(fix.cm.ID, grpID)

	ok, err = fix.svc.IsAvailableForUser(ctx, fix.cm.ID, fix.student1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
