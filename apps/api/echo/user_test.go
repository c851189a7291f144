package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/umahiri/core/user"
)

func Test_userApi_login(t *testing.T) {
	fix := newApiFixture(t)

	tests := []httpTest{
		{
			name:     "empty credentials are rejected",
			body:     marchallObj(t, LoginRequest{}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password":"this field is required","username":"this field is required"}`),
		},
		{
			name:     "unknown user fails authentication",
			body:     marchallObj(t, LoginRequest{Username: "nosuchuser", Password: testPassword}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"error":"authentication failed"}`),
		},
		{
			name:     "wrong password fails authentication",
			body:     marchallObj(t, LoginRequest{Username: fix.student1.Username, Password: "Wrong@Pwd!57"}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"error":"authentication failed"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			fix.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("valid credentials return a token", func(t *testing.T) {
		body := marchallObj(t, LoginRequest{Username: fix.student1.Username, Password: testPassword})
		req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
	})

	t.Run("login by email works too", func(t *testing.T) {
		body := marchallObj(t, LoginRequest{Username: fix.student1.Email, Password: testPassword})
		req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
		fix.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	fix := newApiFixture(t)

	t.Run("missing token is unauthorized", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/users/token-refresh")
		fix.srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		}, rec)
	})

	t.Run("valid token is refreshed", func(t *testing.T) {
		token := getToken(t, fix.student1)
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token)
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
	})
}

func Test_userApi_create(t *testing.T) {
	fix := newApiFixture(t)

	newUserBody := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New User",
			Username:        uname,
			Email:           uname + "@example.test",
			Password:        testPassword,
			PasswordConfirm: testPassword,
			Roles:           roles,
		})
	}

	tests := []httpTest{
		{
			name:     "anonymous cannot register users",
			body:     newUserBody("fresh01", user.RoleStudent),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "non-admin cannot register users",
			body:     newUserBody("fresh01", user.RoleStudent),
			token:    getToken(t, fix.teacher),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"permission denied"}`),
		},
		{
			name:     "admin cannot grant roles above their own",
			body:     newUserBody("fresh01", user.RoleAdminOwner),
			token:    getToken(t, fix.admin),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"roles":"not enough rights to set these roles"}`),
		},
		{
			name:     "duplicate username is rejected",
			body:     newUserBody(fix.student1.Username, user.RoleStudent),
			token:    getToken(t, fix.admin),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"username":"a user with this username already exists"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", tt.token, tt.body)
			fix.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("admin registers a student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", getToken(t, fix.admin), newUserBody("fresh01", user.RoleStudent))
		fix.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var usr user.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usr))
		assert.Equal(t, "fresh01", usr.Username)
		assert.True(t, usr.IsActive)

		saved, err := fix.usrSvc.GetByUsernameOrEmail(req.Context(), "fresh01")
		require.NoError(t, err)
		assert.NoError(t, saved.CheckPassword(testPassword))
	})
}

func Test_userApi_queryRoles(t *testing.T) {
	fix := newApiFixture(t)

	tests := []httpTest{
		{
			name:     "admin lists roles",
			token:    getToken(t, fix.admin),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, user.Roles),
		},
		{
			name:     "student may not",
			token:    getToken(t, fix.student1),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"permission denied"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", tt.token)
			fix.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
