package competency

import (
	"errors"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/umahiri/core"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("rating")
	ErrCompetencyNotFound   = core.NewNotFoundError("competency")
	ErrCourseModuleNotFound = core.NewNotFoundError("course module")
	ErrScaleNotFound        = core.NewNotFoundError("scale")
	ErrUserCompNotFound     = core.NewNotFoundError("user competency")

	ErrInvalidGrade = core.NewValidationError(
		errors.New("grade is not a valid scale value"),
		core.FieldError{Field: "grade", Error: "grade is not a valid scale value"},
	)
	ErrCompetencyNotLinked = core.NewDomainError("competency is not linked to this course module")
	ErrUserNotGradable     = core.NewDomainError("user is not enrolled as gradable in this course")
)

// Capabilities checked by the grading and reporting workflows. The
// Authorizer resolves them against a context (course, course module,
// competency or user).
type Capability string

const (
	CapCourseCompetencyView   Capability = "course-competency:view"
	CapCourseCompetencyManage Capability = "course-competency:manage"
	CapCompetencyView         Capability = "competency:view"
	CapCompetencyManage       Capability = "competency:manage"
	CapCompetencyGrade        Capability = "competency:grade"
	CapUserCompetencyView     Capability = "user-competency:view"
	CapViewSuspendedUsers     Capability = "enrolment:view-suspended"
)

type ContextLevel string

const (
	ContextCourse       ContextLevel = "course"
	ContextCourseModule ContextLevel = "course-module"
	ContextCompetency   ContextLevel = "competency"
	ContextUser         ContextLevel = "user"
)

// ContextRef points a capability check at a concrete context.
type ContextRef struct {
	Level ContextLevel
	ID    int64
}

func CourseRef(id int64) ContextRef       { return ContextRef{Level: ContextCourse, ID: id} }
func CourseModuleRef(id int64) ContextRef { return ContextRef{Level: ContextCourseModule, ID: id} }
func CompetencyRef(id int64) ContextRef   { return ContextRef{Level: ContextCompetency, ID: id} }
func UserRef(id int64) ContextRef         { return ContextRef{Level: ContextUser, ID: id} }

// Competency is a read-mostly catalog entry; ratings reference it.
type Competency struct {
	ID          int64  `json:"id"`
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
	ScaleID     int64  `json:"scale_id"`
}

type ScaleItem struct {
	Name       string `json:"name"`
	Proficient bool   `json:"proficient"`
}

// Scale is an ordered list of grade values; grades are 1-based indexes
// into Items.
type Scale struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	Items []ScaleItem `json:"items"`
}

// IsValidGrade reports whether grade indexes an item of this scale.
func (s Scale) IsValidGrade(grade int) bool {
	return grade >= 1 && grade <= len(s.Items)
}

// Proficiency resolves a grade to its scale item's proficiency flag.
func (s Scale) Proficiency(grade int) (bool, error) {
	if !s.IsValidGrade(grade) {
		return false, ErrInvalidGrade
	}
	return s.Items[grade-1].Proficient, nil
}

// GradeName resolves a grade to its scale item's display name.
func (s Scale) GradeName(grade int) string {
	if !s.IsValidGrade(grade) {
		return ""
	}
	return s.Items[grade-1].Name
}

const modNameAssignment = "assign"

type CourseModule struct {
	ID       int64     `json:"id"`
	CourseID int64     `json:"course_id"`
	Name     string    `json:"name"`
	ModName  string    `json:"mod_name"`
	Visible  bool      `json:"visible"`
	AddedAt  time.Time `json:"added_at"` // UTC
}

func (cm CourseModule) IsAssignment() bool {
	return cm.ModName == modNameAssignment
}

// Assignment holds assignment-specific settings of a course module.
type Assignment struct {
	CourseModuleID int64 `json:"course_module_id"`
	TeamSubmission bool  `json:"team_submission"`
}

// Rating associates a user and a competency within one course module.
// Grade and Proficiency are both null until a teacher grades; they are
// always set together. One rating exists per (user, course module,
// competency); it is created lazily and never deleted.
type Rating struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	CourseModuleID int64      `json:"course_module_id"`
	CompetencyID   int64      `json:"competency_id"`
	Grade          null.Int   `json:"grade"`
	Proficiency    null.Bool  `json:"proficiency"`
	CreatedAt      time.Time  `json:"created_at"` // UTC
	UpdatedAt      time.Time  `json:"updated_at"` // UTC
	UpdatedBy      null.Int64 `json:"updated_by"`
}

// IsGraded reports whether a grade has ever been set.
func (r Rating) IsGraded() bool { return r.Grade.Valid }

// Validate enforces the grade/proficiency pairing invariant and checks
// the grade against the competency's scale.
func (r Rating) Validate(scale Scale) error {
	if r.Grade.Valid != r.Proficiency.Valid {
		return core.NewValidationError(
			errors.New("grade and proficiency must be set together"),
			core.FieldError{Field: "proficiency", Error: "grade and proficiency must be set together"})
	}
	if r.Grade.Valid && !scale.IsValidGrade(r.Grade.Int) {
		return ErrInvalidGrade
	}
	return nil
}

// UserCompetency statuses.
const (
	StatusIdle             = 0
	StatusWaitingForReview = 1
	StatusInReview         = 2
)

// UserCompetency is the cross-activity "best known state" of a user on
// a competency; course-module ratings feed evidence into it.
type UserCompetency struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"user_id"`
	CompetencyID int64 `json:"competency_id"`
	Status       int   `json:"status"`
}

// Evidence actions.
const (
	ActionLog      = 0 // note only, no grade change
	ActionComplete = 1 // grade suggestion
	ActionOverride = 2 // grade forced (manual rating by a teacher)
)

// DescKeyManualOverride identifies the evidence description for a
// manual course-module rating; clients localize it.
const DescKeyManualOverride = "evidence-manual-override-in-course-module"

// Evidence is an append-only record attached to a user competency.
type Evidence struct {
	ID               int64       `json:"id"`
	UserCompetencyID int64       `json:"user_competency_id"`
	CourseModuleID   int64       `json:"course_module_id"`
	Action           int         `json:"action"`
	DescKey          string      `json:"desc_key"`
	DescComponent    string      `json:"desc_component"`
	Desc             string      `json:"desc"`
	Grade            null.Int    `json:"grade"`
	Note             null.String `json:"note"`
	URL              string      `json:"url"`
	ActingUserID     null.Int64  `json:"acting_user_id"`
	CreatedAt        time.Time   `json:"created_at"` // UTC
}

// EvidenceFilter narrows and pages an evidence listing.
type EvidenceFilter struct {
	UserID         int64
	CompetencyID   int64
	CourseModuleID int64
	Sort           string // created_at | action | grade | id
	Ascending      bool
	Skip           int
	Limit          int
}

var evidenceSortColumns = map[string]bool{
	"": true, "id": true, "created_at": true, "action": true, "grade": true,
}

func (f EvidenceFilter) Validate() error {
	if !evidenceSortColumns[f.Sort] {
		return core.NewValidationError(
			errors.New("unknown sort column"),
			core.FieldError{Field: "sort", Error: "unknown sort column"},
		)
	}
	return nil
}

// Statistics is the per-user course-module competency summary.
type Statistics struct {
	CourseModuleID  int64 `json:"course_module_id"`
	UserID          int64 `json:"user_id"`
	CompetencyCount int   `json:"competency_count"`
	ProficientCount int   `json:"proficient_count"`
}

// Summary bundles everything a rating detail page needs.
type Summary struct {
	Competency      Competency   `json:"competency"`
	Scale           Scale        `json:"scale"`
	CourseModule    CourseModule `json:"course_module"`
	Rating          Rating       `json:"rating"`
	Evidence        []Evidence   `json:"evidence"`
	CanApplyToGroup bool         `json:"can_apply_to_group"`
}
