package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/clinic-scheduler/internal/application"
	apihttp "github.com/example/clinic-scheduler/internal/http"
	"github.com/example/clinic-scheduler/internal/testfixtures"
	"github.com/example/clinic-scheduler/pkg/client"
)

type clientFixture struct {
	url     string
	harness *testfixtures.SQLiteHarness
	clock   *testfixtures.Clock
}

func newClientFixture(t *testing.T, wrap ...func(http.Handler) http.Handler) *clientFixture {
	t.Helper()

	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory()
	logger := zerolog.Nop()

	auth := factory.NewAuthService(testfixtures.AuthServiceDeps{Users: harness.Users, Sessions: harness.Sessions})
	router := apihttp.NewRouter(apihttp.RouterConfig{
		Auth:   apihttp.NewAuthHandler(auth, logger),
		Users:  apihttp.NewUserHandler(factory.NewUserService(testfixtures.UserServiceDeps{Users: harness.Users}), logger),
		Slots:  apihttp.NewSlotHandler(factory.NewSlotService(testfixtures.SlotServiceDeps{Slots: harness.Slots, Users: harness.Users}), logger),
		Access: auth,
		Logger: logger,
	})
	var handler http.Handler = router
	for _, w := range wrap {
		handler = w(handler)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &clientFixture{url: server.URL, harness: harness, clock: factory.Clock}
}

func (f *clientFixture) loggedIn(t *testing.T, id string, role application.Role) (*client.Client, testfixtures.UserFixture) {
	t.Helper()
	user := f.harness.CreateUser(t, testfixtures.NewUserFixture(testfixtures.WithUserID(id), testfixtures.WithUserRole(role)))

	c, err := client.New(f.url)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), user.Email, testfixtures.DefaultPassword, id+"-device", "test")
	require.NoError(t, err)
	return c, user
}

func TestClientBooksAppointments(t *testing.T) {
	ctx := context.Background()
	f := newClientFixture(t)
	doctor, doctorUser := f.loggedIn(t, "doctor", application.RoleDoctor)
	alice, _ := f.loggedIn(t, "alice", application.RolePatient)
	bob, _ := f.loggedIn(t, "bob", application.RolePatient)

	created, err := doctor.GenerateSlots(ctx, doctorUser.ID, "2024-06-10", []client.TimeRange{{Start: "09:00", End: "11:00"}})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	slots, err := alice.ListSlots(ctx, doctorUser.ID, "2024-06-10")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	require.NoError(t, alice.ReserveSlot(ctx, slots[0].SlotID))
	err = bob.ReserveSlot(ctx, slots[0].SlotID)
	assert.Equal(t, apihttp.CodeSlotAlreadyBooked, client.ErrorCode(err))

	_, err = doctor.GenerateSlots(ctx, doctorUser.ID, "2024-06-10", nil)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Contains(t, apiErr.Fields, "slots")
}

func TestClientRenewsExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newClientFixture(t)
	c, user := f.loggedIn(t, "alice", application.RolePatient)

	before, _ := c.Credentials().Load()
	f.clock.Advance(application.DefaultAccessTokenTTL + time.Minute)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)

	after, ok := c.Credentials().Load()
	require.True(t, ok)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RenewalToken, after.RenewalToken)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, "patient", after.Role)
}

func TestClientConcurrentExpiredRequestsShareOneRenewal(t *testing.T) {
	ctx := context.Background()

	// Hold the first two profile requests until both have arrived so they are
	// rejected with the same expired token.
	var arrived sync.WaitGroup
	arrived.Add(2)
	var held atomic.Int32
	barrier := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/users/me" && held.Add(1) <= 2 {
				arrived.Done()
				arrived.Wait()
			}
			next.ServeHTTP(w, r)
		})
	}

	f := newClientFixture(t, barrier)
	c, user := f.loggedIn(t, "alice", application.RolePatient)
	before, _ := c.Credentials().Load()
	f.clock.Advance(application.DefaultAccessTokenTTL + time.Minute)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Me(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	after, ok := c.Credentials().Load()
	require.True(t, ok)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.NotEqual(t, before.RenewalToken, after.RenewalToken)

	stored, err := f.harness.Sessions.GetSession(ctx, before.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored.RevokedAt)
	assert.EqualValues(t, 2, stored.Version, "only one renewal reached the server")

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)
}

func TestClientSurfacesRejectionWhenRenewalFails(t *testing.T) {
	ctx := context.Background()
	f := newClientFixture(t)
	c, _ := f.loggedIn(t, "alice", application.RolePatient)

	creds, _ := c.Credentials().Load()
	_, err := f.harness.Sessions.RevokeSession(ctx, creds.SessionID, f.clock.Now(), application.RevokeReasonAdmin)
	require.NoError(t, err)
	f.clock.Advance(application.DefaultAccessTokenTTL + time.Minute)

	_, err = c.Me(ctx)
	assert.Equal(t, apihttp.CodeAccessTokenExpired, client.ErrorCode(err))
	_, ok := c.Credentials().Load()
	assert.False(t, ok)
}

func TestClientLogout(t *testing.T) {
	ctx := context.Background()
	f := newClientFixture(t)
	c, user := f.loggedIn(t, "alice", application.RolePatient)

	sessions, err := c.ListSessions(ctx, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Current)

	require.NoError(t, c.Logout(ctx))
	_, ok := c.Credentials().Load()
	assert.False(t, ok)

	stored, err := f.harness.Sessions.ListSessionsForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotNil(t, stored[0].RevokedAt)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := client.New("ftp://example.com")
	assert.Error(t, err)
}
