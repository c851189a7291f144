package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
)

type competencyRepository struct {
	db *DB
}

var _ competency.Repository = (*competencyRepository)(nil) // interface compliance check

func NewCompetencyRepository(db *DB) competency.Repository {
	return &competencyRepository{db: db}
}

// ------------------------------------------------------------------ //
// course modules

func (repo *competencyRepository) GetCourseModule(_ context.Context, id int64, _ ...core.DBExecutor) (competency.CourseModule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cm, ok := repo.db.courseModules[id]; ok {
		return *cm, nil
	}
	return competency.CourseModule{}, competency.ErrCourseModuleNotFound
}

func (repo *competencyRepository) GetAssignment(_ context.Context, cmID int64, _ ...core.DBExecutor) (competency.Assignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if assign, ok := repo.db.assignments[cmID]; ok {
		return *assign, nil
	}
	return competency.Assignment{}, competency.ErrCourseModuleNotFound
}

func (repo *competencyRepository) ListCourseModulesWithCompetencies(_ context.Context, courseID int64, _ ...core.DBExecutor) ([]competency.CourseModule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	linked := make(map[int64]bool, len(repo.db.links))
	for _, lnk := range repo.db.links {
		linked[lnk.cmID] = true
	}
	cms := make([]competency.CourseModule, 0)
	for _, cm := range repo.db.courseModules {
		if cm.CourseID == courseID && cm.Visible && linked[cm.ID] {
			cms = append(cms, *cm)
		}
	}
	sort.Slice(cms, func(i, j int) bool { return cms[i].AddedAt.Before(cms[j].AddedAt) })
	return cms, nil
}

func (repo *competencyRepository) ListCourseModulesUsingCompetency(_ context.Context, competencyID int64, _ ...core.DBExecutor) ([]competency.CourseModule, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	cms := make([]competency.CourseModule, 0)
	for _, lnk := range repo.db.links {
		if lnk.competencyID != competencyID {
			continue
		}
		if cm, ok := repo.db.courseModules[lnk.cmID]; ok {
			cms = append(cms, *cm)
		}
	}
	sort.Slice(cms, func(i, j int) bool { return cms[i].ID < cms[j].ID })
	return cms, nil
}

func (repo *competencyRepository) IsCourseModuleAvailable(_ context.Context, cmID, userID int64, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	cm, ok := repo.db.courseModules[cmID]
	if !ok {
		return false, competency.ErrCourseModuleNotFound
	}
	if !cm.Visible {
		return false, nil
	}
	groupID, restricted := repo.db.restrictions[cmID]
	if !restricted {
		return true, nil
	}
	grp, ok := repo.db.groups[groupID]
	if !ok {
		return false, nil
	}
	for _, member := range grp.members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

// ------------------------------------------------------------------ //
// catalog

func (repo *competencyRepository) GetCompetency(_ context.Context, id int64, _ ...core.DBExecutor) (competency.Competency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if comp, ok := repo.db.competencies[id]; ok {
		return *comp, nil
	}
	return competency.Competency{}, competency.ErrCompetencyNotFound
}

func (repo *competencyRepository) GetScale(_ context.Context, id int64, _ ...core.DBExecutor) (competency.Scale, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.scales[id]; ok {
		return *s, nil
	}
	return competency.Scale{}, competency.ErrScaleNotFound
}

func (repo *competencyRepository) cmLinks(cmID int64) []link {
	links := make([]link, 0)
	for _, lnk := range repo.db.links {
		if lnk.cmID == cmID {
			links = append(links, lnk)
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].sortOrder < links[j].sortOrder })
	return links
}

func (repo *competencyRepository) ListLinkedCompetencies(_ context.Context, cmID int64, _ ...core.DBExecutor) ([]competency.Competency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	comps := make([]competency.Competency, 0)
	for _, lnk := range repo.cmLinks(cmID) {
		if comp, ok := repo.db.competencies[lnk.competencyID]; ok {
			comps = append(comps, *comp)
		}
	}
	return comps, nil
}

func (repo *competencyRepository) CountLinkedCompetencies(ctx context.Context, cmID int64, exec ...core.DBExecutor) (int, error) {
	comps, err := repo.ListLinkedCompetencies(ctx, cmID, exec...)
	if err != nil {
		return 0, err
	}
	return len(comps), nil
}

func (repo *competencyRepository) IsCompetencyLinked(_ context.Context, cmID, competencyID int64, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, lnk := range repo.db.links {
		if lnk.cmID == cmID && lnk.competencyID == competencyID {
			return true, nil
		}
	}
	return false, nil
}

// ------------------------------------------------------------------ //
// ratings

func (repo *competencyRepository) GetRating(_ context.Context, userID, cmID, competencyID int64, _ ...core.DBExecutor) (competency.Rating, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, rat := range repo.db.ratings {
		if rat.UserID == userID && rat.CourseModuleID == cmID && rat.CompetencyID == competencyID {
			return *rat, nil
		}
	}
	return competency.Rating{}, competency.ErrNotFound
}

func (repo *competencyRepository) GetRatings(_ context.Context, userID, cmID int64, competencyIDs []int64, _ ...core.DBExecutor) ([]competency.Rating, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	wanted := make(map[int64]bool, len(competencyIDs))
	for _, id := range competencyIDs {
		wanted[id] = true
	}
	ratings := make([]competency.Rating, 0)
	for _, rat := range repo.db.ratings {
		if rat.UserID != userID || rat.CourseModuleID != cmID {
			continue
		}
		if len(competencyIDs) > 0 && !wanted[rat.CompetencyID] {
			continue
		}
		ratings = append(ratings, *rat)
	}
	sort.Slice(ratings, func(i, j int) bool { return ratings[i].ID < ratings[j].ID })
	return ratings, nil
}

func (repo *competencyRepository) CreateRating(_ context.Context, rat competency.Rating, _ ...core.DBExecutor) (competency.Rating, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rat.ID = repo.db.nextPK()
	repo.db.ratings[rat.ID] = &rat
	return rat, nil
}

func (repo *competencyRepository) UpdateRating(_ context.Context, rat competency.Rating, _ ...core.DBExecutor) (competency.Rating, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.ratings[rat.ID]; !ok {
		return competency.Rating{}, competency.ErrNotFound
	}
	repo.db.ratings[rat.ID] = &rat
	return rat, nil
}

func (repo *competencyRepository) CountProficient(_ context.Context, cmID, userID int64, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	linked := make(map[int64]bool)
	for _, lnk := range repo.db.links {
		if lnk.cmID == cmID {
			linked[lnk.competencyID] = true
		}
	}
	var count int
	for _, rat := range repo.db.ratings {
		if rat.CourseModuleID == cmID && rat.UserID == userID &&
			rat.Proficiency.Valid && rat.Proficiency.Bool && linked[rat.CompetencyID] {
			count++
		}
	}
	return count, nil
}

func (repo *competencyRepository) LeastProficient(_ context.Context, cmID int64, skip, limit int, _ ...core.DBExecutor) ([]competency.Competency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	type ranked struct {
		comp            competency.Competency
		timesProficient int
	}
	ranks := make([]ranked, 0)
	for _, lnk := range repo.cmLinks(cmID) {
		comp, ok := repo.db.competencies[lnk.competencyID]
		if !ok {
			continue
		}
		var times int
		for _, rat := range repo.db.ratings {
			if rat.CourseModuleID == cmID && rat.CompetencyID == comp.ID &&
				rat.Proficiency.Valid && rat.Proficiency.Bool {
				times++
			}
		}
		ranks = append(ranks, ranked{comp: *comp, timesProficient: times})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].timesProficient != ranks[j].timesProficient {
			return ranks[i].timesProficient < ranks[j].timesProficient
		}
		return ranks[i].comp.ID > ranks[j].comp.ID
	})

	if skip > len(ranks) {
		skip = len(ranks)
	}
	ranks = ranks[skip:]
	if limit > 0 && limit < len(ranks) {
		ranks = ranks[:limit]
	}
	comps := make([]competency.Competency, len(ranks))
	for i, r := range ranks {
		comps[i] = r.comp
	}
	return comps, nil
}

// ------------------------------------------------------------------ //
// user competencies + evidence

func (repo *competencyRepository) GetUserCompetency(_ context.Context, userID, competencyID int64, _ ...core.DBExecutor) (competency.UserCompetency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, uc := range repo.db.userComps {
		if uc.UserID == userID && uc.CompetencyID == competencyID {
			return *uc, nil
		}
	}
	return competency.UserCompetency{}, competency.ErrUserCompNotFound
}

func (repo *competencyRepository) CreateUserCompetency(_ context.Context, uc competency.UserCompetency, _ ...core.DBExecutor) (competency.UserCompetency, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	uc.ID = repo.db.nextPK()
	repo.db.userComps[uc.ID] = &uc
	return uc, nil
}

func (repo *competencyRepository) UpdateUserCompetency(_ context.Context, uc competency.UserCompetency, _ ...core.DBExecutor) (competency.UserCompetency, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.userComps[uc.ID]; !ok {
		return competency.UserCompetency{}, competency.ErrUserCompNotFound
	}
	repo.db.userComps[uc.ID] = &uc
	return uc, nil
}

func (repo *competencyRepository) CreateEvidence(_ context.Context, ev competency.Evidence, _ ...core.DBExecutor) (competency.Evidence, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ev.ID = repo.db.nextPK()
	repo.db.evidence[ev.ID] = &ev
	return ev, nil
}

func (repo *competencyRepository) ListEvidence(_ context.Context, ucID int64, filter competency.EvidenceFilter, _ ...core.DBExecutor) ([]competency.Evidence, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	evs := make([]competency.Evidence, 0)
	for _, ev := range repo.db.evidence {
		if ev.UserCompetencyID != ucID {
			continue
		}
		if filter.CourseModuleID != 0 && ev.CourseModuleID != filter.CourseModuleID {
			continue
		}
		evs = append(evs, *ev)
	}
	sort.Slice(evs, func(i, j int) bool {
		var less bool
		a, b := evs[i], evs[j]
		switch filter.Sort {
		case "created_at":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				less = a.CreatedAt.Before(b.CreatedAt)
				break
			}
			less = a.ID < b.ID
		case "action":
			if a.Action != b.Action {
				less = a.Action < b.Action
				break
			}
			less = a.ID < b.ID
		case "grade":
			if a.Grade.Int != b.Grade.Int {
				less = a.Grade.Int < b.Grade.Int
				break
			}
			less = a.ID < b.ID
		default:
			less = a.ID < b.ID
		}
		if filter.Sort != "" && !filter.Ascending {
			return !less
		}
		return less
	})

	skip := filter.Skip
	if skip > len(evs) {
		skip = len(evs)
	}
	evs = evs[skip:]
	if filter.Limit > 0 && filter.Limit < len(evs) {
		evs = evs[:filter.Limit]
	}
	return evs, nil
}

// ------------------------------------------------------------------ //
// enrolment scope

func (repo *competencyRepository) ListGradableUsers(_ context.Context, courseID, groupID int64, includeSuspended bool, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var inGroup map[int64]bool
	if groupID != 0 {
		inGroup = make(map[int64]bool)
		if grp, ok := repo.db.groups[groupID]; ok {
			for _, member := range grp.members {
				inGroup[member] = true
			}
		}
	}

	users := make([]user.User, 0)
	for _, enr := range repo.db.enrolments {
		if enr.courseID != courseID || enr.role != user.RoleStudent {
			continue
		}
		if enr.suspended && !includeSuspended {
			continue
		}
		if inGroup != nil && !inGroup[enr.userID] {
			continue
		}
		if usr, ok := repo.db.users[enr.userID]; ok {
			users = append(users, *usr)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
