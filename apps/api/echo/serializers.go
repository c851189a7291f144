package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/umahiri/core/competency"
)

type (
	GradeRequest struct {
		CourseModuleID int64  `json:"course_module_id" validate:"required"`
		UserID         int64  `json:"user_id" validate:"required"`
		CompetencyID   int64  `json:"competency_id" validate:"required"`
		Grade          int    `json:"grade" validate:"required,min=1"`
		Note           string `json:"note"`
		ApplyToGroup   bool   `json:"apply_to_group"`
	}

	RatingRequest struct {
		CourseModuleID int64 `json:"course_module_id" query:"course_module_id" validate:"required"`
		UserID         int64 `json:"user_id" query:"user_id" validate:"required"`
		CompetencyID   int64 `json:"competency_id" query:"competency_id" validate:"required"`
	}

	EvidenceRequest struct {
		UserID         int64 `query:"user_id"`
		CompetencyID   int64 `query:"competency_id" validate:"required"`
		CourseModuleID int64 `query:"course_module_id" validate:"required"`
		Skip           int   `query:"skip"`
		Limit          int   `query:"limit"`
	}

	GradedUserResponse struct {
		UserID   int64               `json:"user_id"`
		Evidence competency.Evidence `json:"evidence"`
	}

	GradableUserResponse struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	}

	// SummaryResponse flattens a rating summary and resolves the grade
	// to its scale item name.
	SummaryResponse struct {
		competency.Summary
		GradeName string `json:"grade_name"`
	}
)

func (gr *GradeRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(gr)
}

func (rr *RatingRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(rr)
}

func (er *EvidenceRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(er)
}

func (er *EvidenceRequest) filter() competency.EvidenceFilter {
	return competency.EvidenceFilter{
		UserID:         er.UserID,
		CompetencyID:   er.CompetencyID,
		CourseModuleID: er.CourseModuleID,
		Skip:           er.Skip,
		Limit:          er.Limit,
	}
}

func newSummaryResponse(summary competency.Summary) SummaryResponse {
	resp := SummaryResponse{Summary: summary}
	if summary.Rating.IsGraded() {
		resp.GradeName = summary.Scale.GradeName(summary.Rating.Grade.Int)
	}
	return resp
}
