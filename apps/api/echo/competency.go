package echoapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/umahiri/core/competency"
)

type competencyApi struct {
	svc      competency.Service
	validate *validator.Validate
}

func registerCompetencyAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc competency.Service,
	validate *validator.Validate,
) {
	api := competencyApi{
		svc:      svc,
		validate: validate,
	}

	// ratings
	rg := g.Group("/competencies/ratings", jwt)
	rg.POST("/grade", api.grade)
	rg.POST("/viewed", api.viewed)
	rg.GET("/summary", api.summary)
	rg.GET("/evidence", api.queryEvidence)

	// course modules
	cg := g.Group("/course-modules", jwt)
	cg.GET("", api.queryCourseModules)
	cg.GET("/:id/statistics", api.statistics)
	cg.GET("/:id/least-proficient", api.leastProficient)
	cg.GET("/:id/ratings", api.queryUserRatings)
	cg.GET("/:id/gradable-users", api.queryGradableUsers)
	cg.GET("/:id/available", api.isAvailable)

	// competencies
	g.GET("/competencies/:id/course-modules", api.queryCourseModulesUsingCompetency, jwt)
}

// Handlers

func (api *competencyApi) grade(ctx echo.Context) error {
	var data GradeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	evidence, err := api.svc.Grade(
		ctx.Request().Context(), claims.UserID(),
		data.CourseModuleID, data.UserID, data.CompetencyID,
		data.Grade, data.Note, data.ApplyToGroup,
	)
	if err != nil {
		return errors.Wrap(err, "grading competency")
	}

	// deterministic order for clients
	resp := make([]GradedUserResponse, 0, len(evidence))
	for userID, evd := range evidence {
		resp = append(resp, GradedUserResponse{UserID: userID, Evidence: evd})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].UserID < resp[j].UserID })

	return ctx.JSON(http.StatusOK, resp)
}

func (api *competencyApi) viewed(ctx echo.Context) error {
	var data RatingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RatingRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err = api.svc.Viewed(
		ctx.Request().Context(), claims.UserID(),
		data.CourseModuleID, data.UserID, data.CompetencyID,
	); err != nil {
		return errors.Wrap(err, "recording rating view")
	}
	return ctx.JSON(http.StatusOK, true)
}

func (api *competencyApi) summary(ctx echo.Context) error {
	var data RatingRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RatingRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	summary, err := api.svc.Summary(
		ctx.Request().Context(), claims.UserID(),
		data.CourseModuleID, data.UserID, data.CompetencyID,
	)
	if err != nil {
		return errors.Wrap(err, "getting rating summary")
	}
	return ctx.JSON(http.StatusOK, newSummaryResponse(summary))
}

func (api *competencyApi) queryEvidence(ctx echo.Context) error {
	var data EvidenceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EvidenceRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	filter := data.filter()

	ordering := new(Ordering)
	ordering.Bind(ctx)
	if len(ordering.Orderings) > 0 {
		filter.Sort = ordering.Orderings[0].Field
		filter.Ascending = ordering.Orderings[0].Ascending
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if filter.UserID == 0 {
		filter.UserID = claims.UserID()
	}

	evidence, err := api.svc.ListEvidence(ctx.Request().Context(), claims.UserID(), filter)
	if err != nil {
		return errors.Wrap(err, "querying evidence")
	}
	if evidence == nil {
		evidence = []competency.Evidence{}
	}
	return ctx.JSON(http.StatusOK, evidence)
}

func (api *competencyApi) queryCourseModules(ctx echo.Context) error {
	courseID, err := strconv.ParseInt(ctx.QueryParam("course_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "course_id is required")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	cms, err := api.svc.CourseModulesWithCompetencies(ctx.Request().Context(), claims.UserID(), courseID)
	if err != nil {
		return errors.Wrap(err, "querying course modules")
	}
	if cms == nil {
		cms = []competency.CourseModule{}
	}
	return ctx.JSON(http.StatusOK, cms)
}

func (api *competencyApi) queryCourseModulesUsingCompetency(ctx echo.Context) error {
	competencyID, err := pathID(ctx)
	if err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	cmIDs, err := api.svc.ListCourseModulesUsingCompetency(ctx.Request().Context(), claims.UserID(), competencyID)
	if err != nil {
		return errors.Wrap(err, "querying course modules using competency")
	}
	if cmIDs == nil {
		cmIDs = []int64{}
	}
	return ctx.JSON(http.StatusOK, cmIDs)
}

func (api *competencyApi) statistics(ctx echo.Context) error {
	cmID, err := pathID(ctx)
	if err != nil {
		return err
	}
	userID, _ := strconv.ParseInt(ctx.QueryParam("user_id"), 10, 64)

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if userID == 0 {
		userID = claims.UserID()
	}

	stats, err := api.svc.Statistics(ctx.Request().Context(), claims.UserID(), cmID, userID)
	if err != nil {
		return errors.Wrap(err, "getting statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *competencyApi) leastProficient(ctx echo.Context) error {
	cmID, err := pathID(ctx)
	if err != nil {
		return err
	}
	skip, _ := strconv.Atoi(ctx.QueryParam("skip"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	comps, err := api.svc.LeastProficient(ctx.Request().Context(), claims.UserID(), cmID, skip, limit)
	if err != nil {
		return errors.Wrap(err, "querying least proficient competencies")
	}
	if comps == nil {
		comps = []competency.Competency{}
	}
	return ctx.JSON(http.StatusOK, comps)
}

func (api *competencyApi) queryUserRatings(ctx echo.Context) error {
	cmID, err := pathID(ctx)
	if err != nil {
		return err
	}
	userID, _ := strconv.ParseInt(ctx.QueryParam("user_id"), 10, 64)

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if userID == 0 {
		userID = claims.UserID()
	}

	ratings, err := api.svc.ListUserRatings(ctx.Request().Context(), claims.UserID(), cmID, userID)
	if err != nil {
		return errors.Wrap(err, "querying user ratings")
	}
	if ratings == nil {
		ratings = []competency.Rating{}
	}
	return ctx.JSON(http.StatusOK, ratings)
}

func (api *competencyApi) queryGradableUsers(ctx echo.Context) error {
	cmID, err := pathID(ctx)
	if err != nil {
		return err
	}
	groupID, _ := strconv.ParseInt(ctx.QueryParam("group_id"), 10, 64)
	onlyOne, _ := strconv.ParseBool(ctx.QueryParam("only_one"))

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	users, err := api.svc.GradableUsers(ctx.Request().Context(), claims.UserID(), cmID, groupID, onlyOne)
	if err != nil {
		return errors.Wrap(err, "querying gradable users")
	}

	resp := make([]GradableUserResponse, 0, len(users))
	for _, usr := range users {
		resp = append(resp, GradableUserResponse{ID: usr.ID, Name: usr.Name, Username: usr.Username})
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *competencyApi) isAvailable(ctx echo.Context) error {
	cmID, err := pathID(ctx)
	if err != nil {
		return err
	}
	userID, _ := strconv.ParseInt(ctx.QueryParam("user_id"), 10, 64)

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if userID == 0 {
		userID = claims.UserID()
	}

	ok, err := api.svc.IsAvailableForUser(ctx.Request().Context(), cmID, userID)
	if err != nil {
		return errors.Wrap(err, "checking course module availability")
	}
	return ctx.JSON(http.StatusOK, ok)
}

func pathID(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
