package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/umahiri/core/competency"
)

func Test_competencyApi_grade(t *testing.T) {
	fix := newApiFixture(t)

	gradeBody := func(userID int64, grade int, applyToGroup bool) []byte {
		return marchallObj(t, GradeRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         userID,
			CompetencyID:   fix.comps[0].ID,
			Grade:          grade,
			Note:           "solid effort",
			ApplyToGroup:   applyToGroup,
		})
	}

	tests := []httpTest{
		{
			name:     "anonymous may not grade",
			body:     gradeBody(fix.student1.ID, 2, false),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "missing fields are rejected",
			body:     marchallObj(t, GradeRequest{}),
			token:    getToken(t, fix.teacher),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"course_module_id":"this field is required","user_id":"this field is required","competency_id":"this field is required","grade":"this field is required"}`),
		},
		{
			name:     "students may not grade",
			body:     gradeBody(fix.student1.ID, 2, false),
			token:    getToken(t, fix.student1),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"permission denied"}`),
		},
		{
			name:     "off-scale grade is rejected",
			body:     gradeBody(fix.student1.ID, 5, false),
			token:    getToken(t, fix.teacher),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"grade":"grade is not a valid scale value"}`),
		},
		{
			name:     "grading a non-enrolled user is a domain error",
			body:     gradeBody(fix.outsider.ID, 2, false),
			token:    getToken(t, fix.teacher),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"error":"user is not enrolled as gradable in this course"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", tt.token, tt.body)
			fix.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("teacher grades a student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", getToken(t, fix.teacher), gradeBody(fix.student1.ID, 2, false))
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []GradedUserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, fix.student1.ID, resp[0].UserID)
		assert.Equal(t, competency.ActionOverride, resp[0].Evidence.Action)
		assert.Equal(t, 2, resp[0].Evidence.Grade.Int)
		assert.Equal(t, "solid effort", resp[0].Evidence.Note.String)

		require.Len(t, fix.events.Rated, 1)
		assert.Equal(t, fix.teacher.ID, fix.events.Rated[0].ActingUserID)
	})

	t.Run("group grading fans out to team members", func(t *testing.T) {
		fix := newApiFixture(t)
		fix.db.SetAssignment(fix.cm.ID, true)
		fix.db.AddGroup(fix.courseID, fix.student1.ID, fix.student2.ID)

		body := marchallObj(t, GradeRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[0].ID,
			Grade:          3,
			ApplyToGroup:   true,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", getToken(t, fix.teacher), body)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp []GradedUserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 2)
		assert.Equal(t, fix.student1.ID, resp[0].UserID)
		assert.Equal(t, fix.student2.ID, resp[1].UserID)
	})
}

func Test_competencyApi_viewedAndSummary(t *testing.T) {
	fix := newApiFixture(t)

	t.Run("student records a view of their rating", func(t *testing.T) {
		body := marchallObj(t, RatingRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[0].ID,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/viewed", getToken(t, fix.student1), body)
		fix.srv.ServeHTTP(rec, req)

		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`true`)}, rec)
		require.Len(t, fix.events.Viewed, 1)
		assert.Equal(t, fix.student1.ID, fix.events.Viewed[0].ActingUserID)
	})

	t.Run("students may not view others' ratings", func(t *testing.T) {
		body := marchallObj(t, RatingRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         fix.student2.ID,
			CompetencyID:   fix.comps[0].ID,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/viewed", getToken(t, fix.student1), body)
		fix.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("summary resolves the grade name", func(t *testing.T) {
		gradeReq := marchallObj(t, GradeRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[1].ID,
			Grade:          4,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", getToken(t, fix.teacher), gradeReq)
		fix.srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		path := fmt.Sprintf("/v1/competencies/ratings/summary?course_module_id=%d&user_id=%d&competency_id=%d",
			fix.cm.ID, fix.student1.ID, fix.comps[1].ID)
		req, rec = newAuthRequest(http.MethodGet, path, getToken(t, fix.teacher))
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp SummaryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Expert", resp.GradeName)
		assert.Equal(t, fix.comps[1].ID, resp.Competency.ID)
		assert.Len(t, resp.Evidence, 1)
		assert.False(t, resp.CanApplyToGroup) // not a team-submission assignment
	})
}

func Test_competencyApi_courseModuleReports(t *testing.T) {
	fix := newApiFixture(t)
	teacherToken := getToken(t, fix.teacher)

	// grade C1..C4; only C1 is not proficient (grade 1)
	for i, grade := range []int{1, 2, 3, 4} {
		body := marchallObj(t, GradeRequest{
			CourseModuleID: fix.cm.ID,
			UserID:         fix.student1.ID,
			CompetencyID:   fix.comps[i].ID,
			Grade:          grade,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", teacherToken, body)
		fix.srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("statistics count proficient ratings", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/statistics?user_id=%d", fix.cm.ID, fix.student1.ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var stats competency.Statistics
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 6, stats.CompetencyCount)
		assert.Equal(t, 3, stats.ProficientCount)
	})

	t.Run("least proficient ranks ungraded competencies first", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/least-proficient?limit=2", fix.cm.ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var comps []competency.Competency
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comps))
		require.Len(t, comps, 2)
		// C5 and C6 were never graded; ties break on highest ID first
		assert.Equal(t, fix.comps[5].ID, comps[0].ID)
		assert.Equal(t, fix.comps[4].ID, comps[1].ID)
	})

	t.Run("ratings listing synthesizes blanks in link order", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/ratings?user_id=%d", fix.cm.ID, fix.student1.ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var ratings []competency.Rating
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ratings))
		require.Len(t, ratings, 6)
		assert.Equal(t, fix.comps[0].ID, ratings[0].CompetencyID)
		assert.False(t, ratings[5].Grade.Valid)
	})

	t.Run("students see their own ratings", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/ratings", fix.cm.ID)
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, fix.student1))
		fix.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("gradable users lists enrolled students", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/gradable-users", fix.cm.ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var users []GradableUserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
		require.Len(t, users, 2)
		assert.Equal(t, fix.student1.ID, users[0].ID)
	})

	t.Run("students may not list gradable users", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/gradable-users", fix.cm.ID)
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, fix.student1))
		fix.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("course modules with competencies", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules?course_id=%d", fix.courseID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var cms []competency.CourseModule
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cms))
		require.Len(t, cms, 1)
		assert.Equal(t, fix.cm.ID, cms[0].ID)
	})

	t.Run("course modules using a competency", func(t *testing.T) {
		path := fmt.Sprintf("/v1/competencies/%d/course-modules", fix.comps[0].ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marchallObj(t, []int64{fix.cm.ID}),
		}, rec)
	})

	t.Run("availability check", func(t *testing.T) {
		path := fmt.Sprintf("/v1/course-modules/%d/available?user_id=%d", fix.cm.ID, fix.student1.ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`true`)}, rec)
	})
}

func Test_competencyApi_evidence(t *testing.T) {
	fix := newApiFixture(t)
	teacherToken := getToken(t, fix.teacher)

	t.Run("empty history is an empty list", func(t *testing.T) {
		path := fmt.Sprintf("/v1/competencies/ratings/evidence?course_module_id=%d&user_id=%d&competency_id=%d",
			fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)}, rec)
	})

	t.Run("history accumulates gradings", func(t *testing.T) {
		for _, grade := range []int{1, 3} {
			body := marchallObj(t, GradeRequest{
				CourseModuleID: fix.cm.ID,
				UserID:         fix.student1.ID,
				CompetencyID:   fix.comps[0].ID,
				Grade:          grade,
			})
			req, rec := newAuthRequest(http.MethodPost, "/v1/competencies/ratings/grade", teacherToken, body)
			fix.srv.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}

		path := fmt.Sprintf("/v1/competencies/ratings/evidence?course_module_id=%d&user_id=%d&competency_id=%d&ordering=-grade",
			fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var evidence []competency.Evidence
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evidence))
		require.Len(t, evidence, 2)
		assert.Equal(t, 3, evidence[0].Grade.Int)
	})

	t.Run("unknown sort column is rejected", func(t *testing.T) {
		path := fmt.Sprintf("/v1/competencies/ratings/evidence?course_module_id=%d&user_id=%d&competency_id=%d&ordering=sneaky",
			fix.cm.ID, fix.student1.ID, fix.comps[0].ID)
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		fix.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
