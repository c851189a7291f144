package sqlxrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
)

type competencyRepository struct {
	exec core.DBExecutor
}

var _ competency.Repository = (*competencyRepository)(nil) // interface compliance check

func NewCompetencyRepository(exec core.DBExecutor) competency.Repository {
	return &competencyRepository{exec: exec}
}

func (repo competencyRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

// ------------------------------------------------------------------ //
// row types

type courseModuleRow struct {
	ID       int64     `db:"id"`
	CourseID int64     `db:"course_id"`
	Name     string    `db:"name"`
	ModName  string    `db:"mod_name"`
	Visible  bool      `db:"visible"`
	AddedAt  time.Time `db:"added_at"`
}

func (r courseModuleRow) toModel() competency.CourseModule {
	return competency.CourseModule{
		ID:       r.ID,
		CourseID: r.CourseID,
		Name:     r.Name,
		ModName:  r.ModName,
		Visible:  r.Visible,
		AddedAt:  r.AddedAt,
	}
}

type competencyRow struct {
	ID          int64  `db:"id"`
	ShortName   string `db:"short_name"`
	Description string `db:"description"`
	ScaleID     int64  `db:"scale_id"`
}

func (r competencyRow) toModel() competency.Competency {
	return competency.Competency{
		ID:          r.ID,
		ShortName:   r.ShortName,
		Description: r.Description,
		ScaleID:     r.ScaleID,
	}
}

type ratingRow struct {
	ID             int64      `db:"id"`
	UserID         int64      `db:"user_id"`
	CourseModuleID int64      `db:"course_module_id"`
	CompetencyID   int64      `db:"competency_id"`
	Grade          null.Int   `db:"grade"`
	Proficiency    null.Bool  `db:"proficiency"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	UpdatedBy      null.Int64 `db:"updated_by"`
}

func (r ratingRow) toModel() competency.Rating {
	return competency.Rating{
		ID:             r.ID,
		UserID:         r.UserID,
		CourseModuleID: r.CourseModuleID,
		CompetencyID:   r.CompetencyID,
		Grade:          r.Grade,
		Proficiency:    r.Proficiency,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		UpdatedBy:      r.UpdatedBy,
	}
}

type evidenceRow struct {
	ID               int64       `db:"id"`
	UserCompetencyID int64       `db:"user_competency_id"`
	CourseModuleID   int64       `db:"course_module_id"`
	Action           int         `db:"action"`
	DescKey          string      `db:"desc_key"`
	DescComponent    string      `db:"desc_component"`
	Description      string      `db:"description"`
	Grade            null.Int    `db:"grade"`
	Note             null.String `db:"note"`
	URL              string      `db:"url"`
	ActingUserID     null.Int64  `db:"acting_user_id"`
	CreatedAt        time.Time   `db:"created_at"`
}

func (r evidenceRow) toModel() competency.Evidence {
	return competency.Evidence{
		ID:               r.ID,
		UserCompetencyID: r.UserCompetencyID,
		CourseModuleID:   r.CourseModuleID,
		Action:           r.Action,
		DescKey:          r.DescKey,
		DescComponent:    r.DescComponent,
		Desc:             r.Description,
		Grade:            r.Grade,
		Note:             r.Note,
		URL:              r.URL,
		ActingUserID:     r.ActingUserID,
		CreatedAt:        r.CreatedAt,
	}
}

const (
	courseModuleColumns = "cm.id, cm.course_id, cm.name, cm.mod_name, cm.visible, cm.added_at"
	competencyColumns   = "c.id, c.short_name, c.description, c.scale_id"
	ratingColumns       = "id, user_id, course_module_id, competency_id, grade, proficiency, created_at, updated_at, updated_by"
	evidenceColumns     = "id, user_competency_id, course_module_id, action, desc_key, desc_component, description, grade, note, url, acting_user_id, created_at"
)

// ------------------------------------------------------------------ //
// course modules

func (repo competencyRepository) GetCourseModule(ctx context.Context, id int64, exec ...core.DBExecutor) (competency.CourseModule, error) {
	rows, err := repo.getExec(exec).QueryContext(ctx,
		`SELECT `+courseModuleColumns+` FROM course_modules cm WHERE cm.id = $1`, id)
	if err != nil {
		return competency.CourseModule{}, errors.Wrap(err, "finding course module")
	}
	var res []courseModuleRow
	if err = structScan(rows, &res); err != nil {
		return competency.CourseModule{}, errors.Wrap(err, "finding course module")
	}
	if len(res) == 0 {
		return competency.CourseModule{}, competency.ErrCourseModuleNotFound
	}
	return res[0].toModel(), nil
}

func (repo competencyRepository) GetAssignment(ctx context.Context, cmID int64, exec ...core.DBExecutor) (competency.Assignment, error) {
	var assign competency.Assignment
	err := repo.getExec(exec).QueryRowContext(ctx,
		`SELECT course_module_id, team_submission FROM assignments WHERE course_module_id = $1`, cmID,
	).Scan(&assign.CourseModuleID, &assign.TeamSubmission)
	if err != nil {
		return competency.Assignment{}, trapNoRowsErr(err, competency.ErrCourseModuleNotFound, "finding assignment")
	}
	return assign, nil
}

func (repo competencyRepository) queryCourseModules(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) ([]competency.CourseModule, error) {
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []courseModuleRow
	if err = structScan(rows, &res); err != nil {
		return nil, err
	}
	cms := make([]competency.CourseModule, 0, len(res))
	for _, row := range res {
		cms = append(cms, row.toModel())
	}
	return cms, nil
}

func (repo competencyRepository) ListCourseModulesWithCompetencies(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]competency.CourseModule, error) {
	query := `
		SELECT DISTINCT ` + courseModuleColumns + `
		FROM course_modules cm
		JOIN course_module_competencies cmc ON cmc.course_module_id = cm.id
		WHERE cm.course_id = $1 AND cm.visible
		ORDER BY cm.added_at ASC, cm.id ASC`
	cms, err := repo.queryCourseModules(ctx, repo.getExec(exec), query, courseID)
	return cms, errors.Wrap(err, "listing course modules with competencies")
}

func (repo competencyRepository) ListCourseModulesUsingCompetency(ctx context.Context, competencyID int64, exec ...core.DBExecutor) ([]competency.CourseModule, error) {
	query := `
		SELECT DISTINCT ` + courseModuleColumns + `
		FROM course_modules cm
		JOIN course_module_competencies cmc ON cmc.course_module_id = cm.id
		WHERE cmc.competency_id = $1
		ORDER BY cm.id ASC`
	cms, err := repo.queryCourseModules(ctx, repo.getExec(exec), query, competencyID)
	return cms, errors.Wrap(err, "listing course modules using competency")
}

func (repo competencyRepository) IsCourseModuleAvailable(ctx context.Context, cmID, userID int64, exec ...core.DBExecutor) (bool, error) {
	query := `
		SELECT cm.visible AND (
			cm.restriction_group_id IS NULL
			OR EXISTS (
				SELECT 1 FROM group_members gm
				WHERE gm.group_id = cm.restriction_group_id AND gm.user_id = $2
			)
		)
		FROM course_modules cm
		WHERE cm.id = $1`
	var available bool
	err := repo.getExec(exec).QueryRowContext(ctx, query, cmID, userID).Scan(&available)
	if err != nil {
		return false, trapNoRowsErr(err, competency.ErrCourseModuleNotFound, "checking availability")
	}
	return available, nil
}

// ------------------------------------------------------------------ //
// catalog

func (repo competencyRepository) GetCompetency(ctx context.Context, id int64, exec ...core.DBExecutor) (competency.Competency, error) {
	var row competencyRow
	err := repo.getExec(exec).QueryRowContext(ctx,
		`SELECT `+competencyColumns+` FROM competencies c WHERE c.id = $1`, id,
	).Scan(&row.ID, &row.ShortName, &row.Description, &row.ScaleID)
	if err != nil {
		return competency.Competency{}, trapNoRowsErr(err, competency.ErrCompetencyNotFound, "finding competency")
	}
	return row.toModel(), nil
}

func (repo competencyRepository) GetScale(ctx context.Context, id int64, exec ...core.DBExecutor) (competency.Scale, error) {
	exe := repo.getExec(exec)

	var scale competency.Scale
	err := exe.QueryRowContext(ctx, `SELECT id, name FROM scales WHERE id = $1`, id).Scan(&scale.ID, &scale.Name)
	if err != nil {
		return competency.Scale{}, trapNoRowsErr(err, competency.ErrScaleNotFound, "finding scale")
	}

	rows, err := exe.QueryContext(ctx,
		`SELECT name, proficient FROM scale_items WHERE scale_id = $1 ORDER BY sort_order ASC`, id)
	if err != nil {
		return competency.Scale{}, errors.Wrap(err, "listing scale items")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var item competency.ScaleItem
		if err = rows.Scan(&item.Name, &item.Proficient); err != nil {
			return competency.Scale{}, errors.Wrap(err, "listing scale items")
		}
		scale.Items = append(scale.Items, item)
	}
	return scale, errors.Wrap(rows.Err(), "listing scale items")
}

func (repo competencyRepository) queryCompetencies(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) ([]competency.Competency, error) {
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []competencyRow
	if err = structScan(rows, &res); err != nil {
		return nil, err
	}
	comps := make([]competency.Competency, 0, len(res))
	for _, row := range res {
		comps = append(comps, row.toModel())
	}
	return comps, nil
}

func (repo competencyRepository) ListLinkedCompetencies(ctx context.Context, cmID int64, exec ...core.DBExecutor) ([]competency.Competency, error) {
	query := `
		SELECT ` + competencyColumns + `
		FROM competencies c
		JOIN course_module_competencies cmc ON cmc.competency_id = c.id
		WHERE cmc.course_module_id = $1
		ORDER BY cmc.sort_order ASC, cmc.id ASC`
	comps, err := repo.queryCompetencies(ctx, repo.getExec(exec), query, cmID)
	return comps, errors.Wrap(err, "listing linked competencies")
}

func (repo competencyRepository) CountLinkedCompetencies(ctx context.Context, cmID int64, exec ...core.DBExecutor) (int, error) {
	var count int
	err := repo.getExec(exec).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM course_module_competencies WHERE course_module_id = $1`, cmID,
	).Scan(&count)
	return count, errors.Wrap(err, "counting linked competencies")
}

func (repo competencyRepository) IsCompetencyLinked(ctx context.Context, cmID, competencyID int64, exec ...core.DBExecutor) (bool, error) {
	var linked bool
	err := repo.getExec(exec).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM course_module_competencies WHERE course_module_id = $1 AND competency_id = $2)`,
		cmID, competencyID,
	).Scan(&linked)
	return linked, errors.Wrap(err, "checking competency link")
}

// ------------------------------------------------------------------ //
// ratings

func (repo competencyRepository) GetRating(ctx context.Context, userID, cmID, competencyID int64, exec ...core.DBExecutor) (competency.Rating, error) {
	rows, err := repo.getExec(exec).QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM user_competency_cm
		 WHERE user_id = $1 AND course_module_id = $2 AND competency_id = $3`,
		userID, cmID, competencyID)
	if err != nil {
		return competency.Rating{}, errors.Wrap(err, "finding rating")
	}
	var res []ratingRow
	if err = structScan(rows, &res); err != nil {
		return competency.Rating{}, errors.Wrap(err, "finding rating")
	}
	if len(res) == 0 {
		return competency.Rating{}, competency.ErrNotFound
	}
	return res[0].toModel(), nil
}

func (repo competencyRepository) GetRatings(ctx context.Context, userID, cmID int64, competencyIDs []int64, exec ...core.DBExecutor) ([]competency.Rating, error) {
	query := `SELECT ` + ratingColumns + ` FROM user_competency_cm WHERE user_id = ? AND course_module_id = ?`
	args := []interface{}{userID, cmID}
	if len(competencyIDs) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND competency_id IN (?)`, userID, cmID, competencyIDs)
		if err != nil {
			return nil, errors.Wrap(err, "listing ratings")
		}
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query) + ` ORDER BY id ASC`

	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing ratings")
	}
	var res []ratingRow
	if err = structScan(rows, &res); err != nil {
		return nil, errors.Wrap(err, "listing ratings")
	}
	ratings := make([]competency.Rating, 0, len(res))
	for _, row := range res {
		ratings = append(ratings, row.toModel())
	}
	return ratings, nil
}

func (repo competencyRepository) CreateRating(ctx context.Context, rat competency.Rating, exec ...core.DBExecutor) (competency.Rating, error) {
	query := `
		INSERT INTO user_competency_cm (user_id, course_module_id, competency_id, grade, proficiency, created_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := repo.getExec(exec).QueryRowContext(ctx, query,
		rat.UserID, rat.CourseModuleID, rat.CompetencyID, rat.Grade, rat.Proficiency,
		rat.CreatedAt, rat.UpdatedAt, rat.UpdatedBy,
	).Scan(&rat.ID)
	if err != nil {
		return competency.Rating{}, errors.Wrap(err, "inserting rating")
	}
	return rat, nil
}

func (repo competencyRepository) UpdateRating(ctx context.Context, rat competency.Rating, exec ...core.DBExecutor) (competency.Rating, error) {
	query := `
		UPDATE user_competency_cm
		SET grade = $1, proficiency = $2, updated_at = $3, updated_by = $4
		WHERE id = $5`
	res, err := repo.getExec(exec).ExecContext(ctx, query,
		rat.Grade, rat.Proficiency, rat.UpdatedAt, rat.UpdatedBy, rat.ID)
	if err != nil {
		return competency.Rating{}, errors.Wrap(err, "updating rating")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return competency.Rating{}, competency.ErrNotFound
	}
	return rat, nil
}

func (repo competencyRepository) CountProficient(ctx context.Context, cmID, userID int64, exec ...core.DBExecutor) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM user_competency_cm ucc
		JOIN course_module_competencies cmc
		  ON cmc.competency_id = ucc.competency_id AND cmc.course_module_id = ucc.course_module_id
		WHERE ucc.course_module_id = $1 AND ucc.user_id = $2 AND ucc.proficiency = TRUE`
	var count int
	err := repo.getExec(exec).QueryRowContext(ctx, query, cmID, userID).Scan(&count)
	return count, errors.Wrap(err, "counting proficient competencies")
}

func (repo competencyRepository) LeastProficient(ctx context.Context, cmID int64, skip, limit int, exec ...core.DBExecutor) ([]competency.Competency, error) {
	query := `
		SELECT ` + competencyColumns + `
		FROM (
			SELECT cmc.competency_id, SUM(COALESCE(ucc.proficiency::int, 0)) AS times_proficient
			FROM course_module_competencies cmc
			LEFT JOIN user_competency_cm ucc
			  ON ucc.competency_id = cmc.competency_id AND ucc.course_module_id = cmc.course_module_id
			WHERE cmc.course_module_id = $1
			GROUP BY cmc.competency_id
		) p
		JOIN competencies c ON c.id = p.competency_id
		ORDER BY p.times_proficient ASC, c.id DESC
		OFFSET $2 LIMIT NULLIF($3, 0)`
	comps, err := repo.queryCompetencies(ctx, repo.getExec(exec), query, cmID, skip, limit)
	return comps, errors.Wrap(err, "ranking least proficient competencies")
}

// ------------------------------------------------------------------ //
// user competencies + evidence

func (repo competencyRepository) GetUserCompetency(ctx context.Context, userID, competencyID int64, exec ...core.DBExecutor) (competency.UserCompetency, error) {
	var uc competency.UserCompetency
	err := repo.getExec(exec).QueryRowContext(ctx,
		`SELECT id, user_id, competency_id, status FROM user_competencies WHERE user_id = $1 AND competency_id = $2`,
		userID, competencyID,
	).Scan(&uc.ID, &uc.UserID, &uc.CompetencyID, &uc.Status)
	if err != nil {
		return competency.UserCompetency{}, trapNoRowsErr(err, competency.ErrUserCompNotFound, "finding user competency")
	}
	return uc, nil
}

func (repo competencyRepository) CreateUserCompetency(ctx context.Context, uc competency.UserCompetency, exec ...core.DBExecutor) (competency.UserCompetency, error) {
	err := repo.getExec(exec).QueryRowContext(ctx,
		`INSERT INTO user_competencies (user_id, competency_id, status) VALUES ($1, $2, $3) RETURNING id`,
		uc.UserID, uc.CompetencyID, uc.Status,
	).Scan(&uc.ID)
	if err != nil {
		return competency.UserCompetency{}, errors.Wrap(err, "inserting user competency")
	}
	return uc, nil
}

func (repo competencyRepository) UpdateUserCompetency(ctx context.Context, uc competency.UserCompetency, exec ...core.DBExecutor) (competency.UserCompetency, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		`UPDATE user_competencies SET status = $1 WHERE id = $2`, uc.Status, uc.ID)
	if err != nil {
		return competency.UserCompetency{}, errors.Wrap(err, "updating user competency")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return competency.UserCompetency{}, competency.ErrUserCompNotFound
	}
	return uc, nil
}

func (repo competencyRepository) CreateEvidence(ctx context.Context, ev competency.Evidence, exec ...core.DBExecutor) (competency.Evidence, error) {
	query := `
		INSERT INTO evidence (user_competency_id, course_module_id, action, desc_key, desc_component, description, grade, note, url, acting_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := repo.getExec(exec).QueryRowContext(ctx, query,
		ev.UserCompetencyID, ev.CourseModuleID, ev.Action, ev.DescKey, ev.DescComponent,
		ev.Desc, ev.Grade, ev.Note, ev.URL, ev.ActingUserID, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return competency.Evidence{}, errors.Wrap(err, "inserting evidence")
	}
	return ev, nil
}

func (repo competencyRepository) ListEvidence(ctx context.Context, ucID int64, filter competency.EvidenceFilter, exec ...core.DBExecutor) ([]competency.Evidence, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	sortCol := filter.Sort
	if sortCol == "" {
		sortCol = "id"
	}
	ordering := core.DBOrdering{Field: sortCol, Ascending: filter.Ascending}

	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE user_competency_id = $1`
	args := []interface{}{ucID}
	if filter.CourseModuleID != 0 {
		query += ` AND course_module_id = $2`
		args = append(args, filter.CourseModuleID)
	}
	query += fmt.Sprintf(" ORDER BY %s, id ASC OFFSET %d", ordering, filter.Skip)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing evidence")
	}
	var res []evidenceRow
	if err = structScan(rows, &res); err != nil {
		return nil, errors.Wrap(err, "listing evidence")
	}
	evs := make([]competency.Evidence, 0, len(res))
	for _, row := range res {
		evs = append(evs, row.toModel())
	}
	return evs, nil
}

// ------------------------------------------------------------------ //
// enrolment scope

func (repo competencyRepository) ListGradableUsers(ctx context.Context, courseID, groupID int64, includeSuspended bool, exec ...core.DBExecutor) ([]user.User, error) {
	query := `
		SELECT u.id, u.name, u.username, u.email, u.is_active, u.roles, u.password_hash, u.created_at, u.updated_at, u.last_login
		FROM users u
		JOIN enrolments e ON e.user_id = u.id
		WHERE e.course_id = $1 AND e.role = $2`
	args := []interface{}{courseID, user.RoleStudent}
	if !includeSuspended {
		query += ` AND NOT e.suspended`
	}
	if groupID != 0 {
		query += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = $%d AND gm.user_id = u.id)`, len(args)+1)
		args = append(args, groupID)
	}
	query += ` ORDER BY u.id ASC`

	userRepo := userRepository{exec: repo.getExec(exec)}
	users, err := userRepo.queryUsers(ctx, userRepo.exec, query, args...)
	return users, errors.Wrap(err, "listing gradable users")
}
