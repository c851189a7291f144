package user_test

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/user"
	dummydb "github.com/trezcool/umahiri/storage/database/dummy"
)

func newValidationDeps(t *testing.T) (*validator.Validate, user.Service) {
	t.Helper()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	db, err := dummydb.Open()
	require.NoError(t, err)
	return validate, user.NewServiceMock(dummydb.NewUserRepository(db), nil)
}

func validNewUser() user.NewUser {
	return user.NewUser{
		Name:            "Jane Roe",
		Username:        "janeroe",
		Email:           "jane@example.test",
		Password:        "ARandom@Pwd!57",
		PasswordConfirm: "ARandom@Pwd!57",
		Roles:           []string{user.RoleStudent},
	}
}

func TestNewUser_Validate(t *testing.T) {
	validate, svc := newValidationDeps(t)

	hasFieldError := func(t *testing.T, err error, field, tag string) {
		t.Helper()
		vErrs, ok := err.(validator.ValidationErrors)
		require.True(t, ok, "expected validator.ValidationErrors, got %T: %v", err, err)
		for _, fe := range vErrs {
			if fe.Field() == field && fe.Tag() == tag {
				return
			}
		}
		t.Errorf("no error for field %q with tag %q in %v", field, tag, err)
	}

	t.Run("valid", func(t *testing.T) {
		nu := validNewUser()
		assert.NoError(t, nu.Validate(validate, svc))
	})

	t.Run("username or email required", func(t *testing.T) {
		nu := validNewUser()
		nu.Username = ""
		nu.Email = ""
		err := nu.Validate(validate, svc)
		require.Error(t, err)
		hasFieldError(t, err, "username", "username_or_email")
	})

	t.Run("password confirmation must match", func(t *testing.T) {
		nu := validNewUser()
		nu.PasswordConfirm = "Different@Pwd!57"
		err := nu.Validate(validate, svc)
		require.Error(t, err)
		hasFieldError(t, err, "password_confirm", "eqfield")
	})

	t.Run("unknown roles are rejected", func(t *testing.T) {
		nu := validNewUser()
		nu.Roles = []string{"superhero:"}
		err := nu.Validate(validate, svc)
		require.Error(t, err)
		hasFieldError(t, err, "roles", "allroles")
	})

	t.Run("password policy", func(t *testing.T) {
		cases := []struct {
			name    string
			pwd     string
			wantTag string
		}{
			{"too short", "Sh0rt!", "pwdminlen"},
			{"whitespace", "A Random@Pwd!57", "pwdnospace"},
			{"all numeric", "574215783957", "pwdnotallnum"},
			{"no complexity", "arandompwdxyz", "pwdcplx"},
			{"similar to username", "janeroe@J1", "pwdtoosim"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				nu := validNewUser()
				nu.Password = tc.pwd
				nu.PasswordConfirm = tc.pwd
				err := nu.Validate(validate, svc)
				require.Error(t, err)
				hasFieldError(t, err, "password", tc.wantTag)
			})
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		nu := validNewUser()
		_, err := svc.Create(context.Background(), nu)
		require.NoError(t, err)

		dup := validNewUser()
		dup.Email = "other@example.test"
		err = dup.Validate(validate, svc)
		require.Error(t, err)
		assert.True(t, core.IsValidation(err))
	})
}

func TestService_CreateAndGet(t *testing.T) {
	_, svc := newValidationDeps(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, validNewUser())
	require.NoError(t, err)
	assert.NotZero(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("ARandom@Pwd!57"))

	got, err := svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, usr.Username, got.Username)

	got, err = svc.GetByUsernameOrEmail(ctx, "JANE@EXAMPLE.TEST")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = svc.GetByUsernameOrEmail(ctx, "nobody")
	assert.True(t, core.IsNotFound(err))

	refreshed, err := svc.SetLastLogin(ctx, got)
	require.NoError(t, err)
	assert.False(t, refreshed.LastLogin.IsZero())
}

func TestUser_Roles(t *testing.T) {
	usr := user.User{Roles: []string{user.RoleStudent}}
	assert.True(t, usr.IsStudent())
	assert.False(t, usr.IsTeacher())
	assert.False(t, usr.IsAdmin())

	usr.Roles = []string{user.RoleAdminPrincipal}
	assert.True(t, usr.IsAdmin())

	assert.Greater(t, user.MaxRolePriority([]string{user.RoleAdminOwner}), user.MaxRolePriority([]string{user.RoleAdmin}))
	assert.Greater(t, user.MaxRolePriority([]string{user.RoleTeacher}), user.MaxRolePriority([]string{user.RoleStudent}))
}
