package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_Issue(t *testing.T) {
	t.Parallel()

	t.Run("issues credentials for valid passwords", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)

		result := f.login(t, "pat", "laptop")
		assert.Equal(t, "pat", result.User.ID)
		assert.Equal(t, RolePatient, result.Role)
		assert.NotEmpty(t, result.AccessToken)
		assert.NotEmpty(t, result.RenewalToken)
		assert.Equal(t, testEpoch.Add(15*time.Minute), result.AccessExpiresAt)
		assert.Equal(t, testEpoch.Add(DefaultSessionTTL), result.RenewalExpiresAt)

		stored, err := f.storage.Sessions.GetSession(context.Background(), result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, HashRenewalToken(result.RenewalToken), stored.RenewalHash)
		assert.NotEqual(t, result.RenewalToken, stored.RenewalHash)
		assert.Equal(t, "Device laptop", stored.DeviceName)

		principal, err := f.service.ValidateAccess(context.Background(), result.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, Principal{UserID: "pat", SessionID: result.SessionID, Role: RolePatient}, principal)
		assert.Equal(t, 1, f.metrics.issued)
	})

	t.Run("matches email case-insensitively", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)

		_, err := f.service.Issue(context.Background(), IssueParams{Email: " PAT@Clinic.Test ", Password: testPassword, DeviceID: "phone"})
		require.NoError(t, err)
	})

	t.Run("rejects wrong passwords and unknown emails alike", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)

		_, err := f.service.Issue(context.Background(), IssueParams{Email: "pat@clinic.test", Password: "wrong password", DeviceID: "d"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = f.service.Issue(context.Background(), IssueParams{Email: "nobody@clinic.test", Password: testPassword, DeviceID: "d"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = f.service.Issue(context.Background(), IssueParams{Email: "pat@clinic.test", DeviceID: "d"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("requires a device id", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)

		_, err := f.service.Issue(context.Background(), IssueParams{Email: "pat@clinic.test", Password: testPassword, DeviceID: "  "})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "deviceId")
	})

	t.Run("supersedes the previous session of the same device", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		ctx := context.Background()

		first := f.login(t, "pat", "laptop")
		f.clock.Advance(time.Minute)
		other := f.login(t, "pat", "phone")
		f.clock.Advance(time.Minute)
		second := f.login(t, "pat", "laptop")

		old, err := f.storage.Sessions.GetSession(ctx, first.SessionID)
		require.NoError(t, err)
		require.NotNil(t, old.RevokedAt)
		assert.Equal(t, RevokeReasonSuperseded, old.RevokeReason)

		_, err = f.service.ValidateAccess(ctx, first.AccessToken)
		assert.ErrorIs(t, err, ErrSessionRevoked)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: first.SessionID, RenewalToken: first.RenewalToken})
		assert.ErrorIs(t, err, ErrSessionRevoked)

		_, err = f.service.ValidateAccess(ctx, second.AccessToken)
		assert.NoError(t, err)
		_, err = f.service.ValidateAccess(ctx, other.AccessToken)
		assert.NoError(t, err)
		assert.Equal(t, 1, f.metrics.revoked[RevokeReasonSuperseded])
	})
}

func TestAuthService_Renew(t *testing.T) {
	t.Parallel()

	t.Run("rotates the renewal token", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")

		f.clock.Advance(10 * time.Minute)
		renewed, err := f.service.Renew(context.Background(), RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)

		assert.Equal(t, issued.SessionID, renewed.SessionID)
		assert.NotEqual(t, issued.RenewalToken, renewed.RenewalToken)
		assert.NotEqual(t, issued.AccessToken, renewed.AccessToken)
		assert.Equal(t, f.clock.Now().Add(15*time.Minute), renewed.AccessExpiresAt)
		assert.Equal(t, f.clock.Now().Add(DefaultSessionTTL), renewed.RenewalExpiresAt)

		stored, err := f.storage.Sessions.GetSession(context.Background(), issued.SessionID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		require.NotNil(t, stored.LastRenewedAt)
		assert.True(t, stored.LastRenewedAt.Equal(f.clock.Now()))
		assert.Equal(t, 1, f.metrics.renewed)
	})

	t.Run("stale token revokes the session when reuse detection is on", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		renewed, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)
		f.clock.Advance(DefaultReuseGrace + time.Second)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		assert.ErrorIs(t, err, ErrRenewalTokenMismatch)

		stored, err := f.storage.Sessions.GetSession(ctx, issued.SessionID)
		require.NoError(t, err)
		require.NotNil(t, stored.RevokedAt)
		assert.Equal(t, RevokeReasonReuse, stored.RevokeReason)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: renewed.RenewalToken})
		assert.ErrorIs(t, err, ErrSessionRevoked)

		_, err = f.service.ValidateAccess(ctx, renewed.AccessToken)
		assert.ErrorIs(t, err, ErrSessionRevoked)
		assert.Equal(t, 1, f.metrics.failures["renewal_token_mismatch"])
		assert.Equal(t, 1, f.metrics.revoked[RevokeReasonReuse])
	})

	t.Run("stale token within the grace window does not revoke", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		renewed, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)
		f.clock.Advance(DefaultReuseGrace)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		assert.ErrorIs(t, err, ErrRenewalTokenMismatch)

		stored, err := f.storage.Sessions.GetSession(ctx, issued.SessionID)
		require.NoError(t, err)
		assert.Nil(t, stored.RevokedAt)

		_, err = f.service.ValidateAccess(ctx, renewed.AccessToken)
		require.NoError(t, err)
		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: renewed.RenewalToken})
		assert.NoError(t, err)
		assert.Zero(t, f.metrics.revoked[RevokeReasonReuse])
	})

	t.Run("tokens the session never issued do not revoke it", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		renewed, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)

		for _, guess := range []string{"attacker-guess", ""} {
			_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: guess})
			assert.ErrorIs(t, err, ErrRenewalTokenMismatch)
		}

		stored, err := f.storage.Sessions.GetSession(ctx, issued.SessionID)
		require.NoError(t, err)
		assert.Nil(t, stored.RevokedAt)
		assert.Zero(t, f.metrics.revoked[RevokeReasonReuse])

		again, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: renewed.RenewalToken})
		require.NoError(t, err)
		_, err = f.service.ValidateAccess(ctx, again.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("stale token leaves the session alone when reuse detection is off", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, AuthPolicy{SessionTTL: time.Hour})
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		renewed, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		assert.ErrorIs(t, err, ErrRenewalTokenMismatch)

		_, err = f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: renewed.RenewalToken})
		assert.NoError(t, err)
	})

	t.Run("fails after revocation", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		require.NoError(t, f.service.Revoke(ctx, Principal{UserID: "pat", SessionID: issued.SessionID, Role: RolePatient}, issued.SessionID))

		_, err := f.service.Renew(ctx, RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		assert.ErrorIs(t, err, ErrSessionRevoked)
	})

	t.Run("fails once the renewal window closed", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, AuthPolicy{SessionTTL: time.Hour, RevokeOnReuse: true})
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")

		f.clock.Advance(time.Hour)
		_, err := f.service.Renew(context.Background(), RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("reports unknown sessions", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())

		_, err := f.service.Renew(context.Background(), RenewParams{SessionID: "missing", RenewalToken: "x"})
		assert.ErrorIs(t, err, ErrSessionNotFound)

		_, err = f.service.Renew(context.Background(), RenewParams{})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("re-reads the role from the user record", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		user := seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")

		user.Role = string(RoleDoctor)
		user.DoctorStatus = DoctorStatusApproved
		require.NoError(t, f.storage.Users.UpdateUser(context.Background(), user))

		renewed, err := f.service.Renew(context.Background(), RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
		require.NoError(t, err)
		assert.Equal(t, RoleDoctor, renewed.Role)

		principal, err := f.service.ValidateAccess(context.Background(), renewed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, RoleDoctor, principal.Role)
	})

	t.Run("concurrent renewals with one token succeed once", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")

		const workers = 6
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			others    []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.service.Renew(context.Background(), RenewParams{SessionID: issued.SessionID, RenewalToken: issued.RenewalToken})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				others = append(others, err)
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		for _, err := range others {
			assert.ErrorIs(t, err, ErrRenewalTokenMismatch)
		}

		stored, err := f.storage.Sessions.GetSession(context.Background(), issued.SessionID)
		require.NoError(t, err)
		assert.Nil(t, stored.RevokedAt, "losing a renewal race does not revoke")
	})
}

func TestAuthService_Revoke(t *testing.T) {
	t.Parallel()

	t.Run("owner revocation takes effect immediately", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()
		owner := Principal{UserID: "pat", SessionID: issued.SessionID, Role: RolePatient}

		_, err := f.service.ValidateAccess(ctx, issued.AccessToken)
		require.NoError(t, err)

		require.NoError(t, f.service.Revoke(ctx, owner, issued.SessionID))

		_, err = f.service.ValidateAccess(ctx, issued.AccessToken)
		assert.ErrorIs(t, err, ErrSessionRevoked)

		stored, err := f.storage.Sessions.GetSession(ctx, issued.SessionID)
		require.NoError(t, err)
		assert.Equal(t, RevokeReasonLogout, stored.RevokeReason)

		require.NoError(t, f.service.Revoke(ctx, owner, issued.SessionID), "revocation is idempotent")
		assert.Equal(t, 1, f.metrics.revoked[RevokeReasonLogout])
	})

	t.Run("other users are refused and admins are allowed", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		seedUser(t, f.storage.Users, "mallory", RolePatient)
		seedUser(t, f.storage.Users, "root", RoleAdmin)
		issued := f.login(t, "pat", "laptop")
		ctx := context.Background()

		err := f.service.Revoke(ctx, Principal{UserID: "mallory", Role: RolePatient}, issued.SessionID)
		assert.ErrorIs(t, err, ErrUnauthorized)

		require.NoError(t, f.service.Revoke(ctx, Principal{UserID: "root", Role: RoleAdmin}, issued.SessionID))
		stored, err := f.storage.Sessions.GetSession(ctx, issued.SessionID)
		require.NoError(t, err)
		assert.Equal(t, RevokeReasonAdmin, stored.RevokeReason)
	})

	t.Run("reports unknown sessions", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		err := f.service.Revoke(context.Background(), Principal{UserID: "pat", Role: RolePatient}, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestAuthService_ListSessions(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, DefaultAuthPolicy())
	seedUser(t, f.storage.Users, "pat", RolePatient)
	seedUser(t, f.storage.Users, "other", RolePatient)
	seedUser(t, f.storage.Users, "root", RoleAdmin)
	ctx := context.Background()

	laptop := f.login(t, "pat", "laptop")
	f.clock.Advance(time.Minute)
	phone := f.login(t, "pat", "phone")

	self := Principal{UserID: "pat", SessionID: phone.SessionID, Role: RolePatient}
	summaries, err := f.service.ListSessions(ctx, self, "")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, phone.SessionID, summaries[0].ID)
	assert.True(t, summaries[0].Current)
	assert.Equal(t, laptop.SessionID, summaries[1].ID)
	assert.False(t, summaries[1].Current)
	assert.Equal(t, "Device laptop", summaries[1].DeviceName)

	_, err = f.service.ListSessions(ctx, Principal{UserID: "other", Role: RolePatient}, "pat")
	assert.ErrorIs(t, err, ErrUnauthorized)

	adminView, err := f.service.ListSessions(ctx, Principal{UserID: "root", Role: RoleAdmin}, "pat")
	require.NoError(t, err)
	assert.Len(t, adminView, 2)
}

func TestAuthService_ValidateAccess(t *testing.T) {
	t.Parallel()

	t.Run("rejects expired and malformed tokens", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t, DefaultAuthPolicy())
		seedUser(t, f.storage.Users, "pat", RolePatient)
		issued := f.login(t, "pat", "laptop")

		_, err := f.service.ValidateAccess(context.Background(), "garbage")
		assert.ErrorIs(t, err, ErrInvalidAccessToken)

		f.clock.Advance(16 * time.Minute)
		_, err = f.service.ValidateAccess(context.Background(), issued.AccessToken)
		assert.ErrorIs(t, err, ErrAccessTokenExpired)
	})

	t.Run("falls back to the store when the cache fails", func(t *testing.T) {
		t.Parallel()

		storage := newTestStorage(t)
		clock := newTestClock()
		seedUser(t, storage.Users, "pat", RolePatient)
		tokens, err := NewAccessTokenIssuer("test-secret", "", time.Minute, clock.Now)
		require.NoError(t, err)
		svc := NewAuthService(storage.Users, storage.Sessions, tokens, failingStatusCache{}, nil, clock.Now, DefaultAuthPolicy())
		ctx := context.Background()

		issued, err := svc.Issue(ctx, IssueParams{Email: "pat@clinic.test", Password: testPassword, DeviceID: "d"})
		require.NoError(t, err)

		_, err = svc.ValidateAccess(ctx, issued.AccessToken)
		require.NoError(t, err)

		_, err = storage.Sessions.RevokeSession(ctx, issued.SessionID, clock.Now(), RevokeReasonAdmin)
		require.NoError(t, err)
		_, err = svc.ValidateAccess(ctx, issued.AccessToken)
		assert.ErrorIs(t, err, ErrSessionRevoked)

		err = svc.Revoke(ctx, Principal{UserID: "pat", Role: RolePatient}, issued.SessionID)
		assert.True(t, errors.Is(err, errCacheDown), "cache failures on revoke are surfaced, got %v", err)
	})
}

func TestAuthService_NilReceiver(t *testing.T) {
	t.Parallel()

	var svc *AuthService
	_, err := svc.Issue(context.Background(), IssueParams{})
	assert.Error(t, err)
	_, err = svc.Renew(context.Background(), RenewParams{})
	assert.Error(t, err)
	assert.Error(t, svc.Revoke(context.Background(), Principal{}, "x"))
}
