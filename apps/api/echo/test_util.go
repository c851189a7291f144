package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
	"github.com/trezcool/umahiri/core/user"
	dummydb "github.com/trezcool/umahiri/storage/database/dummy"
)

const testPassword = "ARandom@Pwd!57"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

type apiFixture struct {
	srv    Server
	db     *dummydb.DB
	usrSvc user.Service
	events *dummydb.EventRecorder

	admin    user.User
	teacher  user.User
	student1 user.User
	student2 user.User
	outsider user.User

	courseID int64
	cm       competency.CourseModule
	scale    competency.Scale
	comps    []competency.Competency
}

// newApiFixture spins up a full API server on dummy storage: a course
// with one team-capable activity, a 4-value scale, six linked
// competencies, one admin, one teacher and two enrolled students.
func newApiFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	conf := &core.Config{
		AppName:         "Umahiri",
		TestMode:        true,
		SecretKey:       "secret",
		FrontendBaseURL: "https://app.example.test",
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
	}

	db, err := dummydb.Open()
	require.NoError(t, err)
	usrRepo := dummydb.NewUserRepository(db)

	validate := validator.New()
	translator := newTestTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	fix := &apiFixture{db: db, events: dummydb.NewEventRecorder(), courseID: 100}
	fix.usrSvc = user.NewService(usrRepo, conf, nil)

	addUser := func(name string, roles ...string) user.User {
		usr := user.User{
			Name:     name,
			Username: name,
			Email:    name + "@example.test",
			IsActive: true,
			Roles:    roles,
		}
		require.NoError(t, usr.SetPassword(testPassword))
		usr, err := usrRepo.CreateUser(ctx, usr)
		require.NoError(t, err)
		return usr
	}
	fix.admin = addUser("admin01", user.RoleAdmin)
	fix.teacher = addUser("teacher01", user.RoleTeacher)
	fix.student1 = addUser("student01", user.RoleStudent)
	fix.student2 = addUser("student02", user.RoleStudent)
	fix.outsider = addUser("outsider01", user.RoleStudent)

	db.Enrol(fix.courseID, fix.teacher.ID, user.RoleTeacher, false)
	db.Enrol(fix.courseID, fix.student1.ID, user.RoleStudent, false)
	db.Enrol(fix.courseID, fix.student2.ID, user.RoleStudent, false)

	fix.cm = db.AddCourseModule(competency.CourseModule{
		CourseID: fix.courseID,
		Name:     "Team essay",
		ModName:  "assign",
		Visible:  true,
	})
	fix.scale = db.AddScale(competency.Scale{
		Name: "Proficiency scale",
		Items: []competency.ScaleItem{
			{Name: "Beginner", Proficient: false},
			{Name: "Competent", Proficient: true},
			{Name: "Proficient", Proficient: true},
			{Name: "Expert", Proficient: true},
		},
	})
	for i := 1; i <= 6; i++ {
		comp := db.AddCompetency(competency.Competency{
			ShortName: fmt.Sprintf("C%d", i),
			ScaleID:   fix.scale.ID,
		})
		db.LinkCompetency(fix.cm.ID, comp.ID, i)
		fix.comps = append(fix.comps, comp)
	}

	compSvc := competency.NewService(
		nil, // dummy repos are not transactional
		dummydb.NewCompetencyRepository(db),
		dummydb.NewAuthorizer(db),
		dummydb.NewGroups(db),
		fix.events,
		fix.usrSvc,
		nil, // no mail
		conf,
		nil,
	)

	fix.srv = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     nil,
		UserSvc:    fix.usrSvc,
		CompSvc:    compSvc,
		Validate:   validate,
		Translator: translator,
	})
	return fix
}

func newTestTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
