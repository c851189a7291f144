package main

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/trezcool/umahiri/core/user"
)

const demoCourseName = "Demo Course"

// seedDemo loads a small demo data set: one course with two activities,
// a 4-value proficiency scale, three competencies linked to both
// activities, one teacher and two students. Does nothing if the demo
// course already exists.
func (cli *commandLine) seedDemo() error {
	var existingID int64
	err := cli.db.QueryRow(`SELECT id FROM courses WHERE name = $1`, demoCourseName).Scan(&existingID)
	if err == nil {
		logger.Println("demo course already seeded; nothing to do")
		return nil
	}
	if err != sql.ErrNoRows {
		return errors.Wrap(err, "checking for demo course")
	}

	tx, err := cli.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var courseID int64
	if err = tx.QueryRow(
		`INSERT INTO courses (name) VALUES ($1) RETURNING id`, demoCourseName,
	).Scan(&courseID); err != nil {
		return errors.Wrap(err, "creating demo course")
	}

	var scaleID int64
	if err = tx.QueryRow(
		`INSERT INTO scales (name) VALUES ('Demo proficiency scale') RETURNING id`,
	).Scan(&scaleID); err != nil {
		return errors.Wrap(err, "creating demo scale")
	}
	scaleItems := []struct {
		name       string
		proficient bool
	}{
		{"Beginner", false},
		{"Competent", true},
		{"Proficient", true},
		{"Expert", true},
	}
	for i, item := range scaleItems {
		if _, err = tx.Exec(
			`INSERT INTO scale_items (scale_id, sort_order, name, proficient) VALUES ($1, $2, $3, $4)`,
			scaleID, i+1, item.name, item.proficient,
		); err != nil {
			return errors.Wrap(err, "creating demo scale items")
		}
	}

	cmIDs := make([]int64, 0, 2)
	for _, cm := range []struct {
		name    string
		modName string
	}{
		{"Team essay", "assign"},
		{"Reading quiz", "quiz"},
	} {
		var cmID int64
		if err = tx.QueryRow(
			`INSERT INTO course_modules (course_id, name, mod_name, visible, added_at)
			 VALUES ($1, $2, $3, TRUE, NOW()) RETURNING id`,
			courseID, cm.name, cm.modName,
		).Scan(&cmID); err != nil {
			return errors.Wrap(err, "creating demo course modules")
		}
		cmIDs = append(cmIDs, cmID)
	}
	if _, err = tx.Exec(
		`INSERT INTO assignments (course_module_id, team_submission) VALUES ($1, TRUE)`,
		cmIDs[0],
	); err != nil {
		return errors.Wrap(err, "creating demo assignment")
	}

	for i, shortName := range []string{"Analysis", "Teamwork", "Communication"} {
		var compID int64
		if err = tx.QueryRow(
			`INSERT INTO competencies (short_name, scale_id) VALUES ($1, $2) RETURNING id`,
			shortName, scaleID,
		).Scan(&compID); err != nil {
			return errors.Wrap(err, "creating demo competencies")
		}
		for _, cmID := range cmIDs {
			if _, err = tx.Exec(
				`INSERT INTO course_module_competencies (course_module_id, competency_id, sort_order)
				 VALUES ($1, $2, $3)`,
				cmID, compID, i+1,
			); err != nil {
				return errors.Wrap(err, "linking demo competencies")
			}
		}
	}

	for _, u := range []struct {
		name string
		role string
	}{
		{"demoteacher", user.RoleTeacher},
		{"demostudent1", user.RoleStudent},
		{"demostudent2", user.RoleStudent},
	} {
		var userID int64
		if err = tx.QueryRow(
			`INSERT INTO users (name, username, email, is_active, roles)
			 VALUES ($1, $1, $1 || '@example.test', TRUE, ARRAY[$2]) RETURNING id`,
			u.name, u.role,
		).Scan(&userID); err != nil {
			return errors.Wrap(err, "creating demo users")
		}
		if _, err = tx.Exec(
			`INSERT INTO enrolments (course_id, user_id, role, suspended) VALUES ($1, $2, $3, FALSE)`,
			courseID, userID, u.role,
		); err != nil {
			return errors.Wrap(err, "enrolling demo users")
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing demo data")
	}
	logger.Println("demo data loaded")
	return nil
}
