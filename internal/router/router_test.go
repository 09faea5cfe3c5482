package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskmanager/internal/auth"
	"taskmanager/internal/config"
	"taskmanager/internal/db"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/handler"
	"taskmanager/internal/model"
	"taskmanager/internal/repository"
	"taskmanager/internal/service"
)

type testServer struct {
	e          *echo.Echo
	jwtService *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gdb, err := db.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, false))
	t.Cleanup(func() { _ = db.Close(gdb) })

	cfg := &config.Config{CORSAllowedOrigins: []string{"*"}, TokenExpire: time.Hour}
	jwtService := auth.NewJWTService("test-secret", cfg.TokenExpire)
	hasher := auth.NewPasswordHasherWithCost(bcrypt.MinCost)

	userRepo := repository.NewUserRepository(gdb)
	taskRepo := repository.NewTaskRepository(gdb)

	authService := service.NewAuthService(userRepo, jwtService, hasher)
	userService := service.NewUserService(userRepo, nil)
	taskService := service.NewTaskService(taskRepo, nil)

	e := echo.New()
	Register(e, cfg, jwtService,
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService),
		handler.NewTaskHandler(taskService),
		handler.NewOAuthHandler(auth.NewOAuthProviders(), auth.NewStateStore(nil), authService, ""),
	)
	return &testServer{e: e, jwtService: jwtService}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, username, email string) service.AuthResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": username, "email": email, "password": "Abcdef1!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result service.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func (s *testServer) createTask(t *testing.T, token string) model.Task {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/task", token, taskBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func taskBody() map[string]string {
	return map[string]string{
		"title":       "T",
		"description": "D",
		"responsible": "alice",
		"status":      "in_progress",
		"startDate":   "2024-01-01",
		"endDate":     "2024-01-02",
		"deadline":    "2024-01-03",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestServiceEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "API is running...", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRegisterCreateList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "Abcdef1!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	var registered service.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, "alice", registered.User.Username)
	assert.Equal(t, "a@x.com", registered.User.Email)
	assert.Equal(t, model.RoleUser, registered.User.Role)

	claims, err := s.jwtService.Verify(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID.String(), claims.IdentityID)

	created := s.createTask(t, registered.Token)
	assert.Equal(t, registered.User.ID, created.UserID)
	assert.Equal(t, 1, created.Version)

	rec = s.do(t, http.MethodGet, "/api/task", registered.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)
	assert.Equal(t, "T", tasks[0].Title)
	assert.Equal(t, model.StatusInProgress, tasks[0].Status)
}

func TestLoginAfterRegister(t *testing.T) {
	s := newTestServer(t)
	registered := s.register(t, "alice", "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "a@x.com", "password": "Abcdef1!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, registered.User, result.User)
	_, err := s.jwtService.Verify(result.Token)
	assert.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/api/users/me", result.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, registered.User, me)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "a@x.com")

	wrongPassword := s.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "a@x.com", "password": "Wrong123!"})
	unknownEmail := s.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "nobody@x.com", "password": "Abcdef1!"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, apperrors.KindInvalidCredentials, decodeError(t, wrongPassword).Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "not-an-email"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.KindValidation, body.Code)
	assert.Len(t, body.Details, 2)
}

func TestRegisterValidationReportsEveryField(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "", "email": "bad", "password": "weak",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.KindValidation, body.Code)
	require.Len(t, body.Details, 3)
	assert.Equal(t, "username", body.Details[0].Field)
	assert.Equal(t, "email", body.Details[1].Field)
	assert.Equal(t, "password", body.Details[2].Field)
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "Abcdef1!" + strings.Repeat("a", 70),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.KindValidation, body.Code)
	require.Len(t, body.Details, 1)
	assert.Equal(t, "password", body.Details[0].Field)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice2", "email": "A@x.com", "password": "Abcdef1!",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.KindDuplicateEmail, decodeError(t, rec).Code)
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/users/login", bytes.NewBufferString("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.KindValidation, decodeError(t, rec).Code)
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")

	t.Run("end date after deadline", func(t *testing.T) {
		body := taskBody()
		body["endDate"] = "2024-01-04"
		rec := s.do(t, http.MethodPost, "/api/task", alice.Token, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, apperrors.KindValidation, resp.Code)
		assert.Contains(t, resp.Error, "deadline")
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/task", alice.Token, map[string]string{"title": "T"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, apperrors.KindValidation, resp.Code)
		assert.Len(t, resp.Details, 6)
	})

	t.Run("unknown status", func(t *testing.T) {
		body := taskBody()
		body["status"] = "archived"
		rec := s.do(t, http.MethodPost, "/api/task", alice.Token, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskOwnerScoping(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")
	bob := s.register(t, "bob", "b@x.com")
	task := s.createTask(t, alice.Token)
	path := "/api/task/" + task.ID.String()

	requests := []struct {
		method string
		body   any
	}{
		{http.MethodGet, nil},
		{http.MethodPut, taskBody()},
		{http.MethodDelete, nil},
	}
	for _, r := range requests {
		rec := s.do(t, r.method, path, bob.Token, r.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, r.method)
		assert.Equal(t, apperrors.KindNotFoundOrForbidden, decodeError(t, rec).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/task", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	// Still intact for the owner.
	rec = s.do(t, http.MethodGet, path, alice.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskNotFound(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")

	absent := s.do(t, http.MethodGet, "/api/task/6f1c1a52-6f0e-4a57-9a2d-0f4e3a1c2b3d", alice.Token, nil)
	malformed := s.do(t, http.MethodGet, "/api/task/not-an-id", alice.Token, nil)

	assert.Equal(t, http.StatusNotFound, absent.Code)
	assert.Equal(t, http.StatusNotFound, malformed.Code)
	assert.Equal(t, absent.Body.String(), malformed.Body.String())
}

func TestTaskGetIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")
	task := s.createTask(t, alice.Token)
	path := "/api/task/" + task.ID.String()

	first := s.do(t, http.MethodGet, path, alice.Token, nil)
	second := s.do(t, http.MethodGet, path, alice.Token, nil)

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestTaskUpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")
	task := s.createTask(t, alice.Token)
	path := "/api/task/" + task.ID.String()

	body := taskBody()
	body["title"] = "Renamed"
	body["status"] = "blocked"
	rec := s.do(t, http.MethodPut, path, alice.Token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, model.StatusBlocked, updated.Status)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, task.UserID, updated.UserID)

	// blocked -> done without passing through in_progress.
	body["status"] = "done"
	rec = s.do(t, http.MethodPut, path, alice.Token, body)
	require.Equal(t, http.StatusOK, rec.Code)

	body["deadline"] = "2023-12-31"
	rec = s.do(t, http.MethodPut, path, alice.Token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, path, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.Equal(t, task.ID, deleted.ID)
	assert.Equal(t, "Renamed", deleted.Title)
	assert.Equal(t, model.StatusDone, deleted.Status)

	rec = s.do(t, http.MethodGet, path, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, path, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthGateOnTaskRoutes(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "a@x.com")

	expiredService := s.jwtService.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, err := expiredService.IssueDefault(alice.User.ID.String(), model.RoleUser)
	require.NoError(t, err)

	parts := strings.Split(alice.Token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	missing := s.do(t, http.MethodGet, "/api/task", "", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, apperrors.KindUnauthenticated, decodeError(t, missing).Code)

	rec := s.do(t, http.MethodGet, "/api/task", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.ErrSessionExpired.Error(), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/task", tampered, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.KindForbidden, decodeError(t, rec).Code)
}

func TestUnknownOAuthProvider(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/auth/myspace", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.KindNotFoundOrForbidden, decodeError(t, rec).Code)
}
