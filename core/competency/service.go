package competency

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/user"
)

type (
	// Repository persists ratings, user competencies and evidence, and
	// reads the competency catalog, course modules and enrolment scope.
	// An optional trailing DBExecutor runs the call inside a transaction.
	Repository interface {
		// course modules
		GetCourseModule(ctx context.Context, id int64, exec ...core.DBExecutor) (CourseModule, error)
		GetAssignment(ctx context.Context, cmID int64, exec ...core.DBExecutor) (Assignment, error)
		ListCourseModulesWithCompetencies(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]CourseModule, error)
		ListCourseModulesUsingCompetency(ctx context.Context, competencyID int64, exec ...core.DBExecutor) ([]CourseModule, error)
		// IsCourseModuleAvailable computes module visibility for a user
		// (module visible and, if restricted, user in the restriction group).
		IsCourseModuleAvailable(ctx context.Context, cmID, userID int64, exec ...core.DBExecutor) (bool, error)

		// catalog
		GetCompetency(ctx context.Context, id int64, exec ...core.DBExecutor) (Competency, error)
		GetScale(ctx context.Context, id int64, exec ...core.DBExecutor) (Scale, error)
		// ListLinkedCompetencies returns the competencies linked to a course
		// module in their configured sort order.
		ListLinkedCompetencies(ctx context.Context, cmID int64, exec ...core.DBExecutor) ([]Competency, error)
		CountLinkedCompetencies(ctx context.Context, cmID int64, exec ...core.DBExecutor) (int, error)
		IsCompetencyLinked(ctx context.Context, cmID, competencyID int64, exec ...core.DBExecutor) (bool, error)

		// ratings
		GetRating(ctx context.Context, userID, cmID, competencyID int64, exec ...core.DBExecutor) (Rating, error)
		GetRatings(ctx context.Context, userID, cmID int64, competencyIDs []int64, exec ...core.DBExecutor) ([]Rating, error)
		CreateRating(ctx context.Context, rat Rating, exec ...core.DBExecutor) (Rating, error)
		UpdateRating(ctx context.Context, rat Rating, exec ...core.DBExecutor) (Rating, error)
		CountProficient(ctx context.Context, cmID, userID int64, exec ...core.DBExecutor) (int, error)
		// LeastProficient ranks linked competencies by ascending sum of
		// proficient ratings, ties broken by descending competency ID.
		LeastProficient(ctx context.Context, cmID int64, skip, limit int, exec ...core.DBExecutor) ([]Competency, error)

		// user competencies + evidence
		GetUserCompetency(ctx context.Context, userID, competencyID int64, exec ...core.DBExecutor) (UserCompetency, error)
		CreateUserCompetency(ctx context.Context, uc UserCompetency, exec ...core.DBExecutor) (UserCompetency, error)
		UpdateUserCompetency(ctx context.Context, uc UserCompetency, exec ...core.DBExecutor) (UserCompetency, error)
		CreateEvidence(ctx context.Context, ev Evidence, exec ...core.DBExecutor) (Evidence, error)
		ListEvidence(ctx context.Context, ucID int64, filter EvidenceFilter, exec ...core.DBExecutor) ([]Evidence, error)

		// enrolment scope; candidates only, availability is filtered by the caller
		ListGradableUsers(ctx context.Context, courseID, groupID int64, includeSuspended bool, exec ...core.DBExecutor) ([]user.User, error)
	}

	// Authorizer resolves capability checks for an acting user.
	Authorizer interface {
		HasAnyCapability(ctx context.Context, userID int64, ref ContextRef, caps ...Capability) (bool, error)
		// IsGradableEnrolled reports whether the user holds an active gradable
		// (student) enrolment in the course.
		IsGradableEnrolled(ctx context.Context, courseID, userID int64) (bool, error)
	}

	// Groups resolves submission groups for team assignments.
	Groups interface {
		// SubmissionGroup returns the user's submission group for the course
		// module, 0 when the user has none.
		SubmissionGroup(ctx context.Context, cmID, userID int64) (int64, error)
		ActiveMembers(ctx context.Context, groupID int64) ([]int64, error)
	}

	Service interface {
		Grade(ctx context.Context, actorID, cmID, userID, competencyID int64, grade int, note string, applyToGroup bool) (map[int64]Evidence, error)
		GetRating(ctx context.Context, actorID, cmID, userID, competencyID int64) (Rating, error)
		ListUserRatings(ctx context.Context, actorID, cmID, userID int64) ([]Rating, error)
		CountCompetencies(ctx context.Context, actorID, cmID int64) (int, error)
		CountProficient(ctx context.Context, actorID, cmID, userID int64) (int, error)
		LeastProficient(ctx context.Context, actorID, cmID int64, skip, limit int) ([]Competency, error)
		ListEvidence(ctx context.Context, actorID int64, filter EvidenceFilter) ([]Evidence, error)
		Viewed(ctx context.Context, actorID, cmID, userID, competencyID int64) error
		ListCourseModulesUsingCompetency(ctx context.Context, actorID, competencyID int64) ([]int64, error)
		CourseModulesWithCompetencies(ctx context.Context, actorID, courseID int64) ([]CourseModule, error)
		IsAvailableForUser(ctx context.Context, cmID, userID int64) (bool, error)
		GradableUsers(ctx context.Context, actorID, cmID, groupID int64, onlyOne bool) ([]user.User, error)
		Statistics(ctx context.Context, actorID, cmID, userID int64) (Statistics, error)
		Summary(ctx context.Context, actorID, cmID, userID, competencyID int64) (Summary, error)
	}

	service struct {
		db      core.DB // nil in tests; writes then run non-transactional
		repo    Repository
		auth    Authorizer
		groups  Groups
		events  EventSink
		usrSvc  user.Service
		mailSvc core.EmailService
		conf    *core.Config
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	auth Authorizer,
	groups Groups,
	events EventSink,
	usrSvc user.Service,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	return &service{
		db:      db,
		repo:    repo,
		auth:    auth,
		groups:  groups,
		events:  events,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		conf:    conf,
		logger:  logger,
	}
}

// Grade rates a competency for a user within one course module. For
// team-submission assignments with applyToGroup, the rating fans out to
// every active member of the user's submission group. All targets are
// written in a single transaction; a failure on any member rolls back
// all of them. Returns the created evidence keyed by graded user ID.
func (svc *service) Grade(
	ctx context.Context,
	actorID, cmID, userID, competencyID int64,
	grade int,
	note string,
	applyToGroup bool,
) (map[int64]Evidence, error) {
	cm, comp, scale, err := svc.resolveTarget(ctx, cmID, competencyID)
	if err != nil {
		return nil, err
	}
	proficient, err := scale.Proficiency(grade)
	if err != nil {
		return nil, err
	}

	targets, err := svc.resolveGradeTargets(ctx, cm, userID, applyToGroup)
	if err != nil {
		return nil, err
	}

	tx, exec, err := svc.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer svc.rollback(tx)

	evidences := make(map[int64]Evidence, len(targets))
	events := make([]RatedEvent, 0, len(targets))
	for _, targetID := range targets {
		if err = svc.checkGradePermissions(ctx, actorID, cm, comp, targetID); err != nil {
			return nil, err
		}

		rat, err := svc.resolveRating(ctx, targetID, cm.ID, comp.ID, exec...)
		if err != nil {
			return nil, err
		}
		rat.Grade = null.IntFrom(grade)
		rat.Proficiency = null.BoolFrom(proficient)
		rat.UpdatedBy = null.Int64From(actorID)
		rat.UpdatedAt = time.Now().UTC()
		if rat, err = svc.repo.UpdateRating(ctx, rat, exec...); err != nil {
			return nil, errors.Wrap(err, "updating rating")
		}

		ev, err := svc.addEvidence(ctx, rat, cm, actorID, note, false /* recommend */, exec...)
		if err != nil {
			return nil, err
		}
		evidences[targetID] = ev
		events = append(events, RatedEvent{Rating: rat, ActingUserID: actorID, Note: note})
	}

	if err = svc.commit(tx); err != nil {
		return nil, err
	}

	for _, evt := range events {
		if svc.events != nil {
			svc.events.RatingRated(ctx, evt)
		}
		svc.sendGradedMail(ctx, evt, cm, scale)
	}
	return evidences, nil
}

// GetRating returns the user's rating for a competency in a course
// module, lazily creating the blank association when none exists yet.
func (svc *service) GetRating(ctx context.Context, actorID, cmID, userID, competencyID int64) (Rating, error) {
	cm, comp, _, err := svc.resolveTarget(ctx, cmID, competencyID)
	if err != nil {
		return Rating{}, err
	}
	if err = svc.checkReadPermissions(ctx, actorID, cm, comp, userID); err != nil {
		return Rating{}, err
	}
	return svc.resolveRating(ctx, userID, cm.ID, comp.ID)
}

// ListUserRatings returns one rating per competency linked to the course
// module, in the module's configured competency order, synthesizing and
// persisting blank ratings for competencies never rated for this user.
func (svc *service) ListUserRatings(ctx context.Context, actorID, cmID, userID int64) ([]Rating, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return nil, err
	}
	if err = svc.canReadUserInCourse(ctx, actorID, userID, cm.CourseID); err != nil {
		return nil, err
	}
	gradable, err := svc.auth.IsGradableEnrolled(ctx, cm.CourseID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "checking enrolment")
	}
	if !gradable {
		return nil, ErrUserNotGradable
	}

	comps, err := svc.repo.ListLinkedCompetencies(ctx, cm.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing linked competencies")
	}
	compIDs := make([]int64, len(comps))
	for i, comp := range comps {
		compIDs[i] = comp.ID
	}
	existing, err := svc.repo.GetRatings(ctx, userID, cm.ID, compIDs)
	if err != nil {
		return nil, errors.Wrap(err, "listing ratings")
	}
	byComp := make(map[int64]Rating, len(existing))
	for _, rat := range existing {
		byComp[rat.CompetencyID] = rat
	}

	tx, exec, err := svc.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer svc.rollback(tx)

	ratings := make([]Rating, 0, len(comps))
	for _, comp := range comps {
		rat, ok := byComp[comp.ID]
		if !ok {
			rat, err = svc.createRating(ctx, userID, cm.ID, comp.ID, exec...)
			if err != nil {
				return nil, err
			}
		}
		ratings = append(ratings, rat)
	}
	if err = svc.commit(tx); err != nil {
		return nil, err
	}
	return ratings, nil
}

func (svc *service) CountCompetencies(ctx context.Context, actorID, cmID int64) (int, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return 0, err
	}
	if err = svc.requireAnyCapability(ctx, actorID, CourseModuleRef(cm.ID),
		CapCourseCompetencyView, CapCourseCompetencyManage); err != nil {
		return 0, err
	}
	return svc.repo.CountLinkedCompetencies(ctx, cm.ID)
}

func (svc *service) CountProficient(ctx context.Context, actorID, cmID, userID int64) (int, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return 0, err
	}
	if err = svc.canReadUserInCourse(ctx, actorID, userID, cm.CourseID); err != nil {
		return 0, err
	}
	return svc.repo.CountProficient(ctx, cm.ID, userID)
}

func (svc *service) LeastProficient(ctx context.Context, actorID, cmID int64, skip, limit int) ([]Competency, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return nil, err
	}
	if err = svc.requireAnyCapability(ctx, actorID, CourseModuleRef(cm.ID),
		CapCourseCompetencyView, CapCourseCompetencyManage); err != nil {
		return nil, err
	}
	return svc.repo.LeastProficient(ctx, cm.ID, skip, limit)
}

// ListEvidence lists the evidence attached to the user's competency,
// scoped to one course module. No user competency means no evidence,
// not an error.
func (svc *service) ListEvidence(ctx context.Context, actorID int64, filter EvidenceFilter) ([]Evidence, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	cm, err := svc.getCourseModule(ctx, filter.CourseModuleID)
	if err != nil {
		return nil, err
	}
	if err = svc.canReadUserInCourse(ctx, actorID, filter.UserID, cm.CourseID); err != nil {
		return nil, err
	}
	uc, err := svc.repo.GetUserCompetency(ctx, filter.UserID, filter.CompetencyID)
	if err != nil {
		if core.IsNotFound(err) {
			return []Evidence{}, nil
		}
		return nil, errors.Wrap(err, "getting user competency")
	}
	return svc.repo.ListEvidence(ctx, uc.ID, filter)
}

// Viewed records that the acting user viewed a rating; the blank
// association is created when missing. Only an event is published.
func (svc *service) Viewed(ctx context.Context, actorID, cmID, userID, competencyID int64) error {
	cm, comp, _, err := svc.resolveTarget(ctx, cmID, competencyID)
	if err != nil {
		return err
	}
	if err = svc.checkReadPermissions(ctx, actorID, cm, comp, userID); err != nil {
		return err
	}
	rat, err := svc.resolveRating(ctx, userID, cm.ID, comp.ID)
	if err != nil {
		return err
	}
	if svc.events != nil {
		svc.events.RatingViewed(ctx, ViewedEvent{Rating: rat, ActingUserID: actorID})
	}
	return nil
}

// ListCourseModulesUsingCompetency returns the IDs of course modules the
// competency is linked to, restricted to courses the actor may view
// competencies in.
func (svc *service) ListCourseModulesUsingCompetency(ctx context.Context, actorID, competencyID int64) ([]int64, error) {
	if _, err := svc.getCompetency(ctx, competencyID); err != nil {
		return nil, err
	}
	cms, err := svc.repo.ListCourseModulesUsingCompetency(ctx, competencyID)
	if err != nil {
		return nil, errors.Wrap(err, "listing course modules")
	}
	ids := make([]int64, 0, len(cms))
	for _, cm := range cms {
		ok, err := svc.auth.HasAnyCapability(ctx, actorID, CourseRef(cm.CourseID),
			CapCourseCompetencyView, CapCourseCompetencyManage)
		if err != nil {
			return nil, errors.Wrap(err, "checking capability")
		}
		if ok {
			ids = append(ids, cm.ID)
		}
	}
	return ids, nil
}

// CourseModulesWithCompetencies returns the course's visible modules
// having at least one linked competency, ordered by the time they were
// added to the course.
func (svc *service) CourseModulesWithCompetencies(ctx context.Context, actorID, courseID int64) ([]CourseModule, error) {
	if err := svc.requireAnyCapability(ctx, actorID, CourseRef(courseID),
		CapCourseCompetencyView, CapCourseCompetencyManage); err != nil {
		return nil, err
	}
	return svc.repo.ListCourseModulesWithCompetencies(ctx, courseID)
}

func (svc *service) IsAvailableForUser(ctx context.Context, cmID, userID int64) (bool, error) {
	if _, err := svc.getCourseModule(ctx, cmID); err != nil {
		return false, err
	}
	return svc.repo.IsCourseModuleAvailable(ctx, cmID, userID)
}

// GradableUsers returns the users the actor may grade in the course
// module: gradable-enrolled (optionally within one group), with the
// module available to them. Suspended enrolments are included only when
// the actor may view them. onlyOne stops at the first match.
func (svc *service) GradableUsers(ctx context.Context, actorID, cmID, groupID int64, onlyOne bool) ([]user.User, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return nil, err
	}
	if err = svc.requireAnyCapability(ctx, actorID, CourseModuleRef(cm.ID), CapCompetencyGrade); err != nil {
		return nil, err
	}
	includeSuspended, err := svc.auth.HasAnyCapability(ctx, actorID, CourseRef(cm.CourseID), CapViewSuspendedUsers)
	if err != nil {
		return nil, errors.Wrap(err, "checking capability")
	}
	candidates, err := svc.repo.ListGradableUsers(ctx, cm.CourseID, groupID, includeSuspended)
	if err != nil {
		return nil, errors.Wrap(err, "listing gradable users")
	}

	users := make([]user.User, 0, len(candidates))
	for _, usr := range candidates {
		available, err := svc.repo.IsCourseModuleAvailable(ctx, cm.ID, usr.ID)
		if err != nil {
			return nil, errors.Wrap(err, "checking availability")
		}
		if !available {
			continue
		}
		users = append(users, usr)
		if onlyOne {
			break
		}
	}
	return users, nil
}

func (svc *service) Statistics(ctx context.Context, actorID, cmID, userID int64) (Statistics, error) {
	count, err := svc.CountCompetencies(ctx, actorID, cmID)
	if err != nil {
		return Statistics{}, err
	}
	proficient, err := svc.CountProficient(ctx, actorID, cmID, userID)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		CourseModuleID:  cmID,
		UserID:          userID,
		CompetencyCount: count,
		ProficientCount: proficient,
	}, nil
}

// Summary assembles the rating detail view: competency, scale, course
// module, the (lazily created) rating, its evidence and whether grading
// can fan out to a submission group.
func (svc *service) Summary(ctx context.Context, actorID, cmID, userID, competencyID int64) (Summary, error) {
	cm, comp, scale, err := svc.resolveTarget(ctx, cmID, competencyID)
	if err != nil {
		return Summary{}, err
	}
	if err = svc.checkReadPermissions(ctx, actorID, cm, comp, userID); err != nil {
		return Summary{}, err
	}
	rat, err := svc.resolveRating(ctx, userID, cm.ID, comp.ID)
	if err != nil {
		return Summary{}, err
	}
	evidence, err := svc.ListEvidence(ctx, actorID, EvidenceFilter{
		UserID:         userID,
		CompetencyID:   comp.ID,
		CourseModuleID: cm.ID,
		Sort:           "created_at",
	})
	if err != nil {
		return Summary{}, err
	}
	canApplyToGroup, err := svc.isTeamSubmission(ctx, cm)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Competency:      comp,
		Scale:           scale,
		CourseModule:    cm,
		Rating:          rat,
		Evidence:        evidence,
		CanApplyToGroup: canApplyToGroup,
	}, nil
}

// ------------------------------------------------------------------ //

func (svc *service) getCourseModule(ctx context.Context, cmID int64) (CourseModule, error) {
	cm, err := svc.repo.GetCourseModule(ctx, cmID)
	if err != nil {
		if core.IsNotFound(err) {
			return CourseModule{}, ErrCourseModuleNotFound
		}
		return CourseModule{}, errors.Wrap(err, "getting course module")
	}
	return cm, nil
}

func (svc *service) getCompetency(ctx context.Context, competencyID int64) (Competency, error) {
	comp, err := svc.repo.GetCompetency(ctx, competencyID)
	if err != nil {
		if core.IsNotFound(err) {
			return Competency{}, ErrCompetencyNotFound
		}
		return Competency{}, errors.Wrap(err, "getting competency")
	}
	return comp, nil
}

// resolveTarget loads and cross-checks the (course module, competency)
// pair every rating operation addresses.
func (svc *service) resolveTarget(ctx context.Context, cmID, competencyID int64) (CourseModule, Competency, Scale, error) {
	cm, err := svc.getCourseModule(ctx, cmID)
	if err != nil {
		return CourseModule{}, Competency{}, Scale{}, err
	}
	comp, err := svc.getCompetency(ctx, competencyID)
	if err != nil {
		return CourseModule{}, Competency{}, Scale{}, err
	}
	linked, err := svc.repo.IsCompetencyLinked(ctx, cm.ID, comp.ID)
	if err != nil {
		return CourseModule{}, Competency{}, Scale{}, errors.Wrap(err, "checking competency link")
	}
	if !linked {
		return CourseModule{}, Competency{}, Scale{}, ErrCompetencyNotLinked
	}
	scale, err := svc.repo.GetScale(ctx, comp.ScaleID)
	if err != nil {
		if core.IsNotFound(err) {
			return CourseModule{}, Competency{}, Scale{}, ErrScaleNotFound
		}
		return CourseModule{}, Competency{}, Scale{}, errors.Wrap(err, "getting scale")
	}
	return cm, comp, scale, nil
}

// resolveGradeTargets expands the graded user into the submission group
// members for team-submission assignments. An empty group falls back to
// the user alone.
func (svc *service) resolveGradeTargets(ctx context.Context, cm CourseModule, userID int64, applyToGroup bool) ([]int64, error) {
	if !applyToGroup {
		return []int64{userID}, nil
	}
	team, err := svc.isTeamSubmission(ctx, cm)
	if err != nil {
		return nil, err
	}
	if !team {
		return []int64{userID}, nil
	}
	groupID, err := svc.groups.SubmissionGroup(ctx, cm.ID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "resolving submission group")
	}
	if groupID == 0 {
		return []int64{userID}, nil
	}
	members, err := svc.groups.ActiveMembers(ctx, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "listing group members")
	}
	if len(members) == 0 {
		return []int64{userID}, nil
	}
	return members, nil
}

func (svc *service) isTeamSubmission(ctx context.Context, cm CourseModule) (bool, error) {
	if !cm.IsAssignment() {
		return false, nil
	}
	assign, err := svc.repo.GetAssignment(ctx, cm.ID)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "getting assignment")
	}
	return assign.TeamSubmission, nil
}

// canReadUserInCourse allows self-reads; anyone else needs the
// user-competency view capability in the course.
func (svc *service) canReadUserInCourse(ctx context.Context, actorID, userID, courseID int64) error {
	if actorID == userID {
		return nil
	}
	return svc.requireAnyCapability(ctx, actorID, CourseRef(courseID), CapUserCompetencyView)
}

func (svc *service) requireAnyCapability(ctx context.Context, actorID int64, ref ContextRef, caps ...Capability) error {
	ok, err := svc.auth.HasAnyCapability(ctx, actorID, ref, caps...)
	if err != nil {
		return errors.Wrap(err, "checking capability")
	}
	if !ok {
		return core.NewPermissionError("permission denied", string(caps[0]))
	}
	return nil
}

// checkReadPermissions guards the read path: user readable in course,
// competency viewable in its own context.
func (svc *service) checkReadPermissions(ctx context.Context, actorID int64, cm CourseModule, comp Competency, userID int64) error {
	if err := svc.canReadUserInCourse(ctx, actorID, userID, cm.CourseID); err != nil {
		return err
	}
	return svc.requireAnyCapability(ctx, actorID, CompetencyRef(comp.ID), CapCompetencyView, CapCompetencyManage)
}

// checkGradePermissions guards the write path, in order: user readable
// in course, grade capability in the course, competency viewable, and a
// gradable enrolment for the target user.
func (svc *service) checkGradePermissions(ctx context.Context, actorID int64, cm CourseModule, comp Competency, userID int64) error {
	if err := svc.canReadUserInCourse(ctx, actorID, userID, cm.CourseID); err != nil {
		return err
	}
	if err := svc.requireAnyCapability(ctx, actorID, CourseRef(cm.CourseID), CapCompetencyGrade); err != nil {
		return err
	}
	if err := svc.requireAnyCapability(ctx, actorID, CompetencyRef(comp.ID), CapCompetencyView, CapCompetencyManage); err != nil {
		return err
	}
	gradable, err := svc.auth.IsGradableEnrolled(ctx, cm.CourseID, userID)
	if err != nil {
		return errors.Wrap(err, "checking enrolment")
	}
	if !gradable {
		return ErrUserNotGradable
	}
	return nil
}

func (svc *service) resolveRating(ctx context.Context, userID, cmID, competencyID int64, exec ...core.DBExecutor) (Rating, error) {
	rat, err := svc.repo.GetRating(ctx, userID, cmID, competencyID, exec...)
	if err == nil {
		return rat, nil
	}
	if !core.IsNotFound(err) {
		return Rating{}, errors.Wrap(err, "getting rating")
	}
	return svc.createRating(ctx, userID, cmID, competencyID, exec...)
}

func (svc *service) createRating(ctx context.Context, userID, cmID, competencyID int64, exec ...core.DBExecutor) (Rating, error) {
	now := time.Now().UTC()
	rat, err := svc.repo.CreateRating(ctx, Rating{
		UserID:         userID,
		CourseModuleID: cmID,
		CompetencyID:   competencyID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, exec...)
	if err != nil {
		return Rating{}, errors.Wrap(err, "creating rating")
	}
	return rat, nil
}

func (svc *service) resolveUserCompetency(ctx context.Context, userID, competencyID int64, exec ...core.DBExecutor) (UserCompetency, error) {
	uc, err := svc.repo.GetUserCompetency(ctx, userID, competencyID, exec...)
	if err == nil {
		return uc, nil
	}
	if !core.IsNotFound(err) {
		return UserCompetency{}, errors.Wrap(err, "getting user competency")
	}
	uc, err = svc.repo.CreateUserCompetency(ctx, UserCompetency{
		UserID:       userID,
		CompetencyID: competencyID,
		Status:       StatusIdle,
	}, exec...)
	if err != nil {
		return UserCompetency{}, errors.Wrap(err, "creating user competency")
	}
	return uc, nil
}

// addEvidence appends the manual-override evidence for a committed
// rating. recommend requests a review of the user competency; the
// grading path never asks for one but the evidence contract allows it.
func (svc *service) addEvidence(
	ctx context.Context,
	rat Rating,
	cm CourseModule,
	actorID int64,
	note string,
	recommend bool,
	exec ...core.DBExecutor,
) (Evidence, error) {
	uc, err := svc.resolveUserCompetency(ctx, rat.UserID, rat.CompetencyID, exec...)
	if err != nil {
		return Evidence{}, err
	}
	if recommend && uc.Status == StatusIdle {
		uc.Status = StatusWaitingForReview
		if _, err = svc.repo.UpdateUserCompetency(ctx, uc, exec...); err != nil {
			return Evidence{}, errors.Wrap(err, "updating user competency")
		}
	}

	ev := Evidence{
		UserCompetencyID: uc.ID,
		CourseModuleID:   cm.ID,
		Action:           ActionOverride,
		DescKey:          DescKeyManualOverride,
		DescComponent:    "competency",
		Desc:             fmt.Sprintf("The competency rating was manually set in the activity '%s'.", cm.Name),
		Grade:            rat.Grade,
		Note:             null.NewString(note, note != ""),
		URL:              fmt.Sprintf("%s/course-modules/%d", svc.conf.FrontendBaseURL, cm.ID),
		ActingUserID:     null.Int64From(actorID),
		CreatedAt:        time.Now().UTC(),
	}
	ev, err = svc.repo.CreateEvidence(ctx, ev, exec...)
	if err != nil {
		return Evidence{}, errors.Wrap(err, "creating evidence")
	}
	return ev, nil
}

// sendGradedMail notifies the graded student; failures are logged, never
// returned.
func (svc *service) sendGradedMail(ctx context.Context, evt RatedEvent, cm CourseModule, scale Scale) {
	if svc.mailSvc == nil || svc.usrSvc == nil {
		return
	}
	usr, err := svc.usrSvc.GetByID(ctx, evt.Rating.UserID)
	if err != nil || usr.Email == "" {
		if err != nil && svc.logger != nil {
			svc.logger.Error("looking up graded user for notification", "error", err)
		}
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("You were rated in %s", cm.Name),
		TemplateName: "competency-graded",
		TemplateData: struct {
			Name         string
			CourseModule string
			GradeName    string
			Note         string
		}{
			Name:         usr.Name,
			CourseModule: cm.Name,
			GradeName:    scale.GradeName(evt.Rating.Grade.Int),
			Note:         evt.Note,
		},
	}
	svc.mailSvc.SendMessages(msg)
}

// ------------------------------------------------------------------ //
// transaction plumbing; a nil DB (tests) degrades to non-transactional
// repo calls.

func (svc *service) begin(ctx context.Context) (core.DBTransactor, []core.DBExecutor, error) {
	if svc.db == nil {
		return nil, nil, nil
	}
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "beginning transaction")
	}
	return tx, []core.DBExecutor{tx}, nil
}

func (svc *service) commit(tx core.DBTransactor) error {
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func (svc *service) rollback(tx core.DBTransactor) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		if svc.logger != nil {
			svc.logger.Error("rolling back transaction", "error", err)
		}
	}
}
