package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Error codes that make a 401 recoverable by renewing the access token.
const (
	CodeAccessTokenExpired = "AUTH_ACCESS_TOKEN_EXPIRED"
	CodeAccessTokenInvalid = "AUTH_ACCESS_TOKEN_INVALID"
)

// maxErrorBody bounds how much of a rejected response is inspected.
const maxErrorBody = 64 << 10

// RenewFunc exchanges a renewal token for fresh credentials.
type RenewFunc func(ctx context.Context, sessionID, renewalToken string) (Credentials, error)

type retriedKey struct{}

// RenewingTransport attaches the cached access token to every request. When
// the server rejects it as expired or invalid, the transport renews once,
// stores the new credentials and replays the request. Renewals are serialized:
// a request whose token was already rotated by a concurrent renewal replays
// with the cached credentials instead of presenting a spent renewal token.
// A failed renewal clears the cache and the original 401 is returned, unless
// the cache was rotated meanwhile.
type RenewingTransport struct {
	Base   http.RoundTripper
	Cache  *CredentialCache
	Renew  RenewFunc
	Logger zerolog.Logger

	renewMu sync.Mutex
}

func (t *RenewingTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *RenewingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds, ok := t.Cache.Load()

	out := req.Clone(req.Context())
	if ok && creds.AccessToken != "" {
		out.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Context().Value(retriedKey{}) != nil || t.Renew == nil || !ok || creds.RenewalToken == "" {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	code, resp := peekErrorCode(resp)
	if code != CodeAccessTokenExpired && code != CodeAccessTokenInvalid {
		return resp, nil
	}

	renewed, ok := t.renew(req.Context(), creds)
	if !ok {
		return resp, nil
	}

	ctx := context.WithValue(req.Context(), retriedKey{}, true)
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+renewed.AccessToken)

	resp.Body.Close()
	t.Logger.Debug().Str("session_id", renewed.SessionID).Str("path", req.URL.Path).Msg("replaying request after renewal")
	return t.base().RoundTrip(retry)
}

// renew returns the credentials to replay with. used are the credentials the
// rejected request carried.
func (t *RenewingTransport) renew(ctx context.Context, used Credentials) (Credentials, bool) {
	t.renewMu.Lock()
	defer t.renewMu.Unlock()

	if current, ok := t.Cache.Load(); ok && rotatedSince(used, current) {
		t.Logger.Debug().Str("session_id", current.SessionID).Msg("credentials already renewed")
		return current, true
	}

	renewed, err := t.Renew(ctx, used.SessionID, used.RenewalToken)
	if err != nil {
		if current, ok := t.Cache.Load(); ok && rotatedSince(used, current) {
			t.Logger.Debug().Err(err).Str("session_id", current.SessionID).Msg("renewal lost to a concurrent rotation")
			return current, true
		}
		t.Logger.Debug().Err(err).Str("session_id", used.SessionID).Msg("renewal failed, clearing credentials")
		t.Cache.Clear()
		return Credentials{}, false
	}
	if renewed.SessionID == "" {
		renewed.SessionID = used.SessionID
	}
	if renewed.Role == "" {
		renewed.Role = used.Role
	}
	t.Cache.Store(renewed)
	return renewed, true
}

// rotatedSince reports whether current holds usable credentials that replaced
// the ones in used.
func rotatedSince(used, current Credentials) bool {
	if current.AccessToken == "" || current.AccessToken == used.AccessToken {
		return false
	}
	return current.SessionID != used.SessionID || current.RenewalToken != used.RenewalToken
}

// peekErrorCode reads the errorCode of a JSON error body and hands back a
// response whose body can still be read in full.
func peekErrorCode(resp *http.Response) (string, *http.Response) {
	if resp.Body == nil {
		return "", resp
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return "", resp
	}

	var body struct {
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return "", resp
	}
	return body.ErrorCode, resp
}
