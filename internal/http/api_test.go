package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/metrics"
	"github.com/example/clinic-scheduler/internal/testfixtures"
)

type apiFixture struct {
	t       *testing.T
	server  *httptest.Server
	harness *testfixtures.SQLiteHarness
	factory *testfixtures.ServiceFactory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory()
	m := metrics.New()
	logger := zerolog.Nop()

	auth := factory.NewAuthService(testfixtures.AuthServiceDeps{Users: harness.Users, Sessions: harness.Sessions, Metrics: m})
	slots := factory.NewSlotService(testfixtures.SlotServiceDeps{Slots: harness.Slots, Users: harness.Users, Metrics: m})
	users := factory.NewUserService(testfixtures.UserServiceDeps{Users: harness.Users})

	router := NewRouter(RouterConfig{
		Auth:           NewAuthHandler(auth, logger),
		Users:          NewUserHandler(users, logger),
		Slots:          NewSlotHandler(slots, logger),
		Health:         NewHealthHandler(map[string]Pinger{"storage": harness.Storage}, logger),
		Access:         auth,
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		CORSOrigins:    []string{"http://localhost:5173"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{t: t, server: server, harness: harness, factory: factory}
}

func (f *apiFixture) user(id string, role application.Role) testfixtures.UserFixture {
	f.t.Helper()
	return f.harness.CreateUser(f.t, testfixtures.NewUserFixture(testfixtures.WithUserID(id), testfixtures.WithUserRole(role)))
}

func (f *apiFixture) do(method, path, token string, body any) (int, []byte) {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, payload
}

func (f *apiFixture) login(email, deviceID string) credentialsResponse {
	f.t.Helper()
	status, body := f.do(http.MethodPost, "/api/auth/login", "", loginRequest{
		Email:      email,
		Password:   testfixtures.DefaultPassword,
		DeviceID:   deviceID,
		DeviceName: "test",
	})
	require.Equal(f.t, http.StatusOK, status, string(body))

	var resp loginResponse
	require.NoError(f.t, json.Unmarshal(body, &resp))
	return resp.credentialsResponse
}

func (f *apiFixture) slots(token, doctorID, date string) []slotDTO {
	f.t.Helper()
	status, body := f.do(http.MethodGet, "/api/doctors/"+doctorID+"/slots?date="+date, token, nil)
	require.Equal(f.t, http.StatusOK, status, string(body))

	var out []slotDTO
	require.NoError(f.t, json.Unmarshal(body, &out))
	return out
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestAppointmentBookingFlow(t *testing.T) {
	f := newAPIFixture(t)
	doctor := f.user("doctor-1", application.RoleDoctor)
	alice := f.user("alice", application.RolePatient)
	bob := f.user("bob", application.RolePatient)

	doctorCreds := f.login(doctor.Email, "doctor-laptop")
	aliceCreds := f.login(alice.Email, "alice-phone")
	bobCreds := f.login(bob.Email, "bob-phone")
	assert.Equal(t, "doctor", doctorCreds.Role)
	assert.Equal(t, "patient", aliceCreds.Role)

	status, body := f.do(http.MethodPost, "/api/doctor/availability/generate", doctorCreds.AccessToken, generateSlotsRequest{
		DoctorID: doctor.ID,
		Date:     "2024-06-10",
		Slots:    []availabilityRange{{Start: "09:00", End: "11:00"}},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var generated generateSlotsResponse
	require.NoError(t, json.Unmarshal(body, &generated))
	assert.Equal(t, 2, generated.CreatedSlots)
	assert.Equal(t, "2024-06-10", generated.Date)

	slots := f.slots(aliceCreds.AccessToken, doctor.ID, "2024-06-10")
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start)
	assert.Equal(t, "10:00", slots[0].End)
	first := slots[0].SlotID

	status, body = f.do(http.MethodPost, "/api/slots/"+first+"/reserve", aliceCreds.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status, string(body))

	slots = f.slots(bobCreds.AccessToken, doctor.ID, "2024-06-10")
	assert.True(t, slots[0].Booked)
	assert.False(t, slots[1].Booked)

	status, body = f.do(http.MethodPost, "/api/slots/"+first+"/reserve", bobCreds.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeSlotAlreadyBooked, decodeError(t, body).ErrorCode)

	status, body = f.do(http.MethodPost, "/api/slots/"+first+"/release", bobCreds.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeSlotNotOwner, decodeError(t, body).ErrorCode)

	status, _ = f.do(http.MethodPost, "/api/slots/"+first+"/release", aliceCreds.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(http.MethodPost, "/api/slots/"+first+"/reserve", bobCreds.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body = f.do(http.MethodPost, "/api/slots/missing/reserve", aliceCreds.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeSlotNotFound, decodeError(t, body).ErrorCode)
}

func TestSlotEndpointsEnforceRolesAndValidation(t *testing.T) {
	f := newAPIFixture(t)
	doctor := f.user("doctor-1", application.RoleDoctor)
	other := f.user("doctor-2", application.RoleDoctor)
	patient := f.user("patient-1", application.RolePatient)

	doctorCreds := f.login(doctor.Email, "d1")
	patientCreds := f.login(patient.Email, "p1")

	request := generateSlotsRequest{
		DoctorID: doctor.ID,
		Date:     "2024-06-10",
		Slots:    []availabilityRange{{Start: "09:00", End: "10:00"}},
	}

	status, body := f.do(http.MethodPost, "/api/doctor/availability/generate", patientCreds.AccessToken, request)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeForbidden, decodeError(t, body).ErrorCode)

	request.DoctorID = other.ID
	status, _ = f.do(http.MethodPost, "/api/doctor/availability/generate", doctorCreds.AccessToken, request)
	assert.Equal(t, http.StatusForbidden, status)

	request.DoctorID = doctor.ID
	request.Date = "2024-13-01"
	request.Slots = []availabilityRange{{Start: "10:00", End: "09:00"}}
	status, body = f.do(http.MethodPost, "/api/doctor/availability/generate", doctorCreds.AccessToken, request)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	resp := decodeError(t, body)
	assert.Equal(t, CodeValidationFailed, resp.ErrorCode)
	assert.Contains(t, resp.Errors, "date")
	assert.Contains(t, resp.Errors, "slots[0]")

	status, _ = f.do(http.MethodGet, "/api/doctors/"+doctor.ID+"/slots?date=tomorrow", patientCreds.AccessToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = f.do(http.MethodPost, "/api/slots/any/reserve", doctorCreds.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeForbidden, decodeError(t, body).ErrorCode)

	status, body = f.do(http.MethodPost, "/api/doctor/availability/generate", doctorCreds.AccessToken, "not an object")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeBadRequest, decodeError(t, body).ErrorCode)
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("rejects missing and malformed tokens", func(t *testing.T) {
		f := newAPIFixture(t)

		status, body := f.do(http.MethodGet, "/api/users/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeAccessTokenInvalid, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodGet, "/api/users/me", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeAccessTokenInvalid, decodeError(t, body).ErrorCode)
	})

	t.Run("rejects invalid credentials", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.user("alice", application.RolePatient)

		status, body := f.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: user.Email, Password: "wrong password", DeviceID: "d"})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeInvalidCredentials, decodeError(t, body).ErrorCode)
	})

	t.Run("expired access token is renewed with the refresh token", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.user("alice", application.RolePatient)
		creds := f.login(user.Email, "phone")

		f.factory.Clock.Advance(application.DefaultAccessTokenTTL + time.Minute)

		status, body := f.do(http.MethodGet, "/api/users/me", creds.AccessToken, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeAccessTokenExpired, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodPost, "/api/auth/refresh", "", refreshRequest{SessionID: creds.SessionID, RefreshToken: creds.RefreshToken})
		require.Equal(t, http.StatusOK, status, string(body))
		var renewed credentialsResponse
		require.NoError(t, json.Unmarshal(body, &renewed))
		assert.NotEqual(t, creds.RefreshToken, renewed.RefreshToken)
		assert.Equal(t, creds.SessionID, renewed.SessionID)

		status, body = f.do(http.MethodGet, "/api/users/me", renewed.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var me userDTO
		require.NoError(t, json.Unmarshal(body, &me))
		assert.Equal(t, user.ID, me.ID)

		status, body = f.do(http.MethodPost, "/api/auth/refresh", "", refreshRequest{SessionID: creds.SessionID, RefreshToken: creds.RefreshToken})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, CodeRenewalTokenMismatch, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodPost, "/api/auth/refresh", "", refreshRequest{SessionID: creds.SessionID, RefreshToken: "attacker-guess"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, CodeRenewalTokenMismatch, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodGet, "/api/users/me", renewed.AccessToken, nil)
		assert.Equal(t, http.StatusOK, status, "mismatched refreshes leave the session usable: %s", body)
	})

	t.Run("logout revokes the session", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.user("alice", application.RolePatient)
		creds := f.login(user.Email, "phone")

		status, _ := f.do(http.MethodPost, "/api/auth/logout", creds.AccessToken, nil)
		require.Equal(t, http.StatusNoContent, status)

		status, body := f.do(http.MethodGet, "/api/users/me", creds.AccessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeSessionRevoked, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodPost, "/api/auth/refresh", "", refreshRequest{SessionID: creds.SessionID, RefreshToken: creds.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeSessionRevoked, decodeError(t, body).ErrorCode)
	})

	t.Run("sessions are listed per device and revocable by an administrator", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.user("alice", application.RolePatient)
		admin := f.user("root", application.RoleAdmin)
		phone := f.login(user.Email, "phone")
		laptop := f.login(user.Email, "laptop")
		adminCreds := f.login(admin.Email, "console")

		status, body := f.do(http.MethodGet, "/api/auth/sessions", phone.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var sessions []sessionDTO
		require.NoError(t, json.Unmarshal(body, &sessions))
		require.Len(t, sessions, 2)
		current := 0
		for _, s := range sessions {
			if s.Current {
				current++
				assert.Equal(t, phone.SessionID, s.SessionID)
			}
		}
		assert.Equal(t, 1, current)

		status, _ = f.do(http.MethodGet, "/api/auth/sessions?userId="+admin.ID, phone.AccessToken, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = f.do(http.MethodDelete, "/api/auth/sessions/"+laptop.SessionID, phone.AccessToken, nil)
		require.Equal(t, http.StatusNoContent, status)

		status, _ = f.do(http.MethodDelete, "/api/auth/sessions/"+phone.SessionID, adminCreds.AccessToken, nil)
		require.Equal(t, http.StatusNoContent, status)

		status, body = f.do(http.MethodGet, "/api/auth/sessions", phone.AccessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, CodeSessionRevoked, decodeError(t, body).ErrorCode)

		status, body = f.do(http.MethodDelete, "/api/auth/sessions/unknown", adminCreds.AccessToken, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, CodeSessionNotFound, decodeError(t, body).ErrorCode)
	})
}

func TestDoctorApplicationFlow(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.user("root", application.RoleAdmin)
	adminCreds := f.login(admin.Email, "console")

	status, body := f.do(http.MethodPost, "/api/auth/register", "", registerRequest{
		Email:         "House@Clinic.test",
		Password:      testfixtures.DefaultPassword,
		Name:          "Gregory House",
		ApplyAsDoctor: true,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var registered userDTO
	require.NoError(t, json.Unmarshal(body, &registered))
	assert.Equal(t, "house@clinic.test", registered.Email)
	assert.Equal(t, "Gregory House", registered.DisplayName)
	assert.Equal(t, "patient", registered.Role)
	assert.Equal(t, application.DoctorStatusPending, registered.DoctorStatus)

	status, body = f.do(http.MethodPost, "/api/auth/register", "", registerRequest{Email: "house@clinic.test", Password: testfixtures.DefaultPassword, Name: "Again"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeAlreadyExists, decodeError(t, body).ErrorCode)

	status, body = f.do(http.MethodPost, "/api/auth/register", "", registerRequest{Email: "bad", Password: "short"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	resp := decodeError(t, body)
	assert.Contains(t, resp.Errors, "email")
	assert.Contains(t, resp.Errors, "password")
	assert.Contains(t, resp.Errors, "displayName")

	applicant := f.login("house@clinic.test", "pager")

	status, _ = f.do(http.MethodGet, "/api/admin/doctors/pending", applicant.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.do(http.MethodGet, "/api/admin/doctors/pending", adminCreds.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var pending []userDTO
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, registered.ID, pending[0].ID)

	status, body = f.do(http.MethodPost, "/api/admin/doctors/approve", adminCreds.AccessToken, approveDoctorRequest{UserID: registered.ID})
	require.Equal(t, http.StatusOK, status, string(body))
	var approved userDTO
	require.NoError(t, json.Unmarshal(body, &approved))
	assert.Equal(t, "doctor", approved.Role)

	status, body = f.do(http.MethodGet, "/api/doctors", adminCreds.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var doctors []userDTO
	require.NoError(t, json.Unmarshal(body, &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, registered.ID, doctors[0].ID)

	// The role is re-read on renewal.
	status, body = f.do(http.MethodPost, "/api/auth/refresh", "", refreshRequest{SessionID: applicant.SessionID, RefreshToken: applicant.RefreshToken})
	require.Equal(t, http.StatusOK, status, string(body))
	var renewed credentialsResponse
	require.NoError(t, json.Unmarshal(body, &renewed))
	assert.Equal(t, "doctor", renewed.Role)
}

func TestOperationalEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = f.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ready","checks":{"storage":"ok"}}`, string(body))

	user := f.user("alice", application.RolePatient)
	f.login(user.Email, "phone")

	status, body = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "clinic_scheduler_sessions_issued_total 1")
	assert.Contains(t, string(body), `route="/api/auth/login"`)

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Vary"), "Origin"))
}
