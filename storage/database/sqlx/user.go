package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/user"
)

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{exec: exec}
}

func (repo userRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

type userRow struct {
	ID           int64          `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		IsActive:     r.IsActive,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
		LastLogin:    r.LastLogin.Time,
	}
}

const userColumns = "id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login"

func (repo userRepository) queryUsers(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) ([]user.User, error) {
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []user.User
	for rows.Next() {
		var row userRow
		if err = rows.Scan(
			&row.ID, &row.Name, &row.Username, &row.Email, &row.IsActive,
			&row.Roles, &row.PasswordHash, &row.CreatedAt, &row.UpdatedAt, &row.LastLogin,
		); err != nil {
			return nil, err
		}
		users = append(users, row.toUser())
	}
	return users, rows.Err()
}

func (repo userRepository) getUser(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) (user.User, error) {
	users, err := repo.queryUsers(ctx, exe, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "querying user")
	}
	if len(users) == 0 {
		return user.User{}, user.ErrNotFound
	}
	return users[0], nil
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	query := `SELECT username, email FROM users WHERE (username = $1 OR email = $2)`
	args := []interface{}{username, email}
	if len(excludedUsers) > 0 {
		ids := make([]int64, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		query += ` AND NOT (id = ANY($3))`
		args = append(args, pq.Array(ids))
	}

	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var uname, mail string
		if err = rows.Scan(&uname, &mail); err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if username != "" && uname == username {
			return user.ErrUsernameExists
		}
		return user.ErrEmailExists
	}
	return errors.Wrap(rows.Err(), "checking user uniqueness")
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	query := `
		INSERT INTO users (name, username, email, is_active, roles, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := repo.getExec(exec).QueryRowContext(ctx, query,
		usr.Name, usr.Username, usr.Email, usr.IsActive, pq.Array(usr.Roles),
		usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt,
	).Scan(&usr.ID)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	exe := repo.getExec(exec)
	switch {
	case filter.ID != 0:
		return repo.getUser(ctx, exe, `SELECT `+userColumns+` FROM users WHERE id = $1`, filter.ID)
	case filter.Username != "":
		return repo.getUser(ctx, exe, `SELECT `+userColumns+` FROM users WHERE username = $1`, filter.Username)
	case filter.Email != "":
		return repo.getUser(ctx, exe, `SELECT `+userColumns+` FROM users WHERE email = $1`, filter.Email)
	case len(filter.UsernameOrEmail) == 2:
		uname, email := filter.UsernameOrEmail[0], filter.UsernameOrEmail[1]
		if uname == "" {
			uname = email
		}
		if email == "" {
			email = uname
		}
		return repo.getUser(ctx, exe, `SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $2`, uname, email)
	}
	return user.User{}, user.ErrNotFound
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	query := `
		UPDATE users
		SET name = $1, username = $2, email = $3, is_active = $4, roles = $5,
		    password_hash = $6, updated_at = $7, last_login = $8
		WHERE id = $9`
	res, err := repo.getExec(exec).ExecContext(ctx, query,
		usr.Name, usr.Username, usr.Email, usr.IsActive, pq.Array(usr.Roles),
		usr.PasswordHash, usr.UpdatedAt, null.NewTime(usr.LastLogin, !usr.LastLogin.IsZero()), usr.ID,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID != 0 {
		return repo.UpdateUser(ctx, usr, exec...)
	}
	existing, err := repo.GetUser(ctx, user.GetFilter{Username: usr.Username}, exec...)
	if err == nil {
		usr.ID = existing.ID
		return repo.UpdateUser(ctx, usr, exec...)
	}
	if err != user.ErrNotFound {
		return user.User{}, err
	}
	return repo.CreateUser(ctx, usr, exec...)
}

// trapNoRowsErr maps psql "no rows" err to the given sentinel
func trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// structScan drains rows into dest (a pointer to a slice of structs).
func structScan(rows *sql.Rows, dest interface{}) error {
	defer func() { _ = rows.Close() }()
	return sqlx.StructScan(rows, dest)
}
