package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/consult/internal/platform/auth"
)

func newTestServer(t *testing.T) (*echo.Echo, Repository) {
	t.Helper()
	repo := NewRepoMemory()
	h := NewHandler(NewService(repo), NewDirectory(repo, zerolog.Nop()))
	e := echo.New()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)
	return e, repo
}

func asUser(req *http.Request, id uuid.UUID, roles ...auth.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: id, Name: "t", Roles: roles}))
}

func TestHandler_GetMe(t *testing.T) {
	e, repo := newTestServer(t)
	me := seed(t, repo, "me", auth.RoleNurse, AvailabilityOnline, 0, 3)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil), me.ID, auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, me.ID, got.ID)
}

func TestHandler_GetMe_Unknown(t *testing.T) {
	e, _ := newTestServer(t)
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil), uuid.New(), auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_SetMyAvailability(t *testing.T) {
	e, repo := newTestServer(t)
	me := seed(t, repo, "me", auth.RoleNurse, AvailabilityOffline, 0, 3)

	body := strings.NewReader(`{"availability":"online"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/accounts/me/availability", body), me.ID, auth.RoleNurse)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := repo.GetByID(context.Background(), me.ID)
	require.NoError(t, err)
	assert.Equal(t, AvailabilityOnline, got.Availability)
}

func TestHandler_SetMyAvailability_Invalid(t *testing.T) {
	e, repo := newTestServer(t)
	me := seed(t, repo, "me", auth.RoleNurse, AvailabilityOffline, 0, 3)

	body := strings.NewReader(`{"availability":"sleeping"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/accounts/me/availability", body), me.ID, auth.RoleNurse)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SetMyAvailability_PatientForbidden(t *testing.T) {
	e, repo := newTestServer(t)
	me := seed(t, repo, "me", auth.RolePatient, AvailabilityOffline, 0, 3)

	body := strings.NewReader(`{"availability":"online"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/accounts/me/availability", body), me.ID, auth.RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_ListAvailable(t *testing.T) {
	e, repo := newTestServer(t)
	seed(t, repo, "doc", auth.RoleDoctor, AvailabilityOnline, 0, 3)
	nurse := seed(t, repo, "nurse", auth.RoleNurse, AvailabilityOnline, 0, 3)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/available?role=doctor", nil), nurse.ID, auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "doc", got[0].Name)
}

func TestHandler_ListAvailable_BadRole(t *testing.T) {
	e, _ := newTestServer(t)
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/available?role=wizard", nil), uuid.New(), auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateAccount_AdminOnly(t *testing.T) {
	e, _ := newTestServer(t)
	payload := `{"name":"Dora","email":"dora@example.com","role":"doctor","max_capacity":4}`

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(payload)), uuid.New(), auth.RoleNurse)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = asUser(httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(payload)), uuid.New(), auth.RoleAdmin)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, 4, got.MaxCapacity)
}

func TestHandler_ListAccounts(t *testing.T) {
	e, repo := newTestServer(t)
	seed(t, repo, "a", auth.RoleNurse, AvailabilityOnline, 0, 3)
	seed(t, repo, "b", auth.RoleDoctor, AvailabilityOnline, 0, 3)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/accounts?role=doctor", nil), uuid.New(), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Data  []Account `json:"data"`
		Total int       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Total)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "b", got.Data[0].Name)
}

func TestHandler_AdminSetsAvailability(t *testing.T) {
	e, repo := newTestServer(t)
	nurse := seed(t, repo, "nurse", auth.RoleNurse, AvailabilityOnline, 0, 3)
	patient := seed(t, repo, "pat", auth.RolePatient, AvailabilityOffline, 0, 3)

	put := func(id string, body string, roles ...auth.Role) *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodPut, "/api/v1/accounts/"+id+"/availability", strings.NewReader(body)), uuid.New(), roles...)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := put(nurse.ID.String(), `{"availability":"offline"}`, auth.RoleSupervisor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := repo.GetByID(context.Background(), nurse.ID)
	require.NoError(t, err)
	assert.Equal(t, AvailabilityOffline, got.Availability)

	assert.Equal(t, http.StatusForbidden, put(nurse.ID.String(), `{"availability":"online"}`, auth.RoleNurse).Code)
	assert.Equal(t, http.StatusBadRequest, put(nurse.ID.String(), `{"availability":"asleep"}`, auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, put(patient.ID.String(), `{"availability":"online"}`, auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, put("not-an-id", `{"availability":"online"}`, auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusNotFound, put(uuid.NewString(), `{"availability":"online"}`, auth.RoleAdmin).Code)
}

func TestHandler_CreateAccount_DuplicateEmail(t *testing.T) {
	e, _ := newTestServer(t)
	payload := `{"name":"Dora","email":"dora@example.com","role":"doctor"}`

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(payload)), uuid.New(), auth.RoleAdmin)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusConflict}, codes)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
		msg  string
	}{
		{invalid("name is required"), http.StatusBadRequest, "name is required"},
		{ErrNotFound, http.StatusNotFound, ErrNotFound.Error()},
		{ErrEmailTaken, http.StatusConflict, ErrEmailTaken.Error()},
		{errors.New("pgx: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		var he *echo.HTTPError
		require.ErrorAs(t, httpError(tt.err), &he)
		assert.Equal(t, tt.code, he.Code)
		assert.Equal(t, tt.msg, he.Message)
	}
}
