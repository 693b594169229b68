package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client whose transport carries requests. Its
// Transport becomes the base of the renewing transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.base = c }
}

// WithCredentialCache shares a cache between clients or with the caller.
func WithCredentialCache(cache *CredentialCache) Option {
	return func(cl *Client) { cl.cache = cache }
}

// WithLogger sets the logger used for renewal diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// Client calls the scheduler API on behalf of one device.
type Client struct {
	baseURL string
	base    *http.Client
	cache   *CredentialCache
	logger  zerolog.Logger

	// authed renews on 401; plain never carries or renews credentials.
	authed *http.Client
	plain  *http.Client
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https: %q", baseURL)
	}

	c := &Client{
		baseURL: u.String(),
		base:    &http.Client{Timeout: 20 * time.Second},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewCredentialCache()
	}

	c.plain = c.base
	c.authed = &http.Client{
		Timeout:       c.base.Timeout,
		CheckRedirect: c.base.CheckRedirect,
		Jar:           c.base.Jar,
		Transport: &RenewingTransport{
			Base:   c.base.Transport,
			Cache:  c.cache,
			Renew:  c.renew,
			Logger: c.logger,
		},
	}
	return c, nil
}

// Credentials exposes the cache backing the client.
func (c *Client) Credentials() *CredentialCache {
	return c.cache
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("scheduler api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("scheduler api: %d: %s", e.StatusCode, e.Message)
}

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// User is an account as returned by the API.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	DoctorStatus string    `json:"doctorStatus,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Session is one device session.
type Session struct {
	SessionID     string     `json:"sessionId"`
	DeviceID      string     `json:"deviceId"`
	DeviceName    string     `json:"deviceName"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastRenewedAt *time.Time `json:"lastRenewedAt,omitempty"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Revoked       bool       `json:"revoked"`
	Current       bool       `json:"current"`
}

// Slot is an appointment window of a doctor's day.
type Slot struct {
	SlotID string `json:"slotId"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Booked bool   `json:"booked"`
}

// TimeRange is an "HH:MM" availability window.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type credentialsPayload struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	SessionID             string    `json:"sessionId"`
	Role                  string    `json:"role"`
}

func (p credentialsPayload) credentials() Credentials {
	return Credentials{
		AccessToken:  p.AccessToken,
		RenewalToken: p.RefreshToken,
		SessionID:    p.SessionID,
		Role:         p.Role,
	}
}

// Login authenticates the device and caches the issued credentials.
func (c *Client) Login(ctx context.Context, email, password, deviceID, deviceName string) (User, error) {
	var resp struct {
		credentialsPayload
		User User `json:"user"`
	}
	err := c.call(ctx, c.plain, http.MethodPost, "/api/auth/login", map[string]string{
		"email":      email,
		"password":   password,
		"deviceId":   deviceID,
		"deviceName": deviceName,
	}, &resp)
	if err != nil {
		return User{}, err
	}
	c.cache.Store(resp.credentials())
	return resp.User, nil
}

// Refresh renews the cached session explicitly.
func (c *Client) Refresh(ctx context.Context) error {
	creds, ok := c.cache.Load()
	if !ok {
		return errors.New("no cached session")
	}
	renewed, err := c.renew(ctx, creds.SessionID, creds.RenewalToken)
	if err != nil {
		return err
	}
	c.cache.Store(renewed)
	return nil
}

func (c *Client) renew(ctx context.Context, sessionID, renewalToken string) (Credentials, error) {
	var resp credentialsPayload
	err := c.call(ctx, c.plain, http.MethodPost, "/api/auth/refresh", map[string]string{
		"sessionId":    sessionID,
		"refreshToken": renewalToken,
	}, &resp)
	if err != nil {
		return Credentials{}, err
	}
	return resp.credentials(), nil
}

// Logout revokes the cached session. The cache is cleared even when the
// server call fails.
func (c *Client) Logout(ctx context.Context) error {
	creds, ok := c.cache.Load()
	defer c.cache.Clear()
	if !ok {
		return nil
	}
	return c.call(ctx, c.authed, http.MethodPost, "/api/auth/logout", map[string]string{"sessionId": creds.SessionID}, nil)
}

// Register creates a patient account, optionally applying for the doctor role.
func (c *Client) Register(ctx context.Context, email, password, displayName string, applyAsDoctor bool) (User, error) {
	var user User
	err := c.call(ctx, c.plain, http.MethodPost, "/api/auth/register", map[string]any{
		"email":         email,
		"password":      password,
		"displayName":   displayName,
		"applyAsDoctor": applyAsDoctor,
	}, &user)
	return user, err
}

// ListSessions lists the sessions of userID, or the caller's own when empty.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	path := "/api/auth/sessions"
	if userID != "" {
		path += "?userId=" + url.QueryEscape(userID)
	}
	var sessions []Session
	err := c.call(ctx, c.authed, http.MethodGet, path, nil, &sessions)
	return sessions, err
}

// RevokeSession revokes one session by id.
func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, c.authed, http.MethodDelete, "/api/auth/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Me returns the caller's account.
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	err := c.call(ctx, c.authed, http.MethodGet, "/api/users/me", nil, &user)
	return user, err
}

// ListDoctors returns every approved doctor.
func (c *Client) ListDoctors(ctx context.Context) ([]User, error) {
	var doctors []User
	err := c.call(ctx, c.authed, http.MethodGet, "/api/doctors", nil, &doctors)
	return doctors, err
}

// PendingDoctors returns doctor applications awaiting approval.
func (c *Client) PendingDoctors(ctx context.Context) ([]User, error) {
	var users []User
	err := c.call(ctx, c.authed, http.MethodGet, "/api/admin/doctors/pending", nil, &users)
	return users, err
}

// ApproveDoctor grants the doctor role to an applicant.
func (c *Client) ApproveDoctor(ctx context.Context, userID string) (User, error) {
	var user User
	err := c.call(ctx, c.authed, http.MethodPost, "/api/admin/doctors/approve", map[string]string{"userId": userID}, &user)
	return user, err
}

// GenerateSlots replaces the doctor's slots for date and returns how many
// were created.
func (c *Client) GenerateSlots(ctx context.Context, doctorID, date string, ranges []TimeRange) (int, error) {
	var resp struct {
		CreatedSlots int `json:"createdSlots"`
	}
	err := c.call(ctx, c.authed, http.MethodPost, "/api/doctor/availability/generate", map[string]any{
		"doctorId": doctorID,
		"date":     date,
		"slots":    ranges,
	}, &resp)
	return resp.CreatedSlots, err
}

// ListSlots returns the doctor's slots for date ordered by start time.
func (c *Client) ListSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	path := "/api/doctors/" + url.PathEscape(doctorID) + "/slots?date=" + url.QueryEscape(date)
	var slots []Slot
	err := c.call(ctx, c.authed, http.MethodGet, path, nil, &slots)
	return slots, err
}

// ReserveSlot books a slot for the caller.
func (c *Client) ReserveSlot(ctx context.Context, slotID string) error {
	return c.call(ctx, c.authed, http.MethodPost, "/api/slots/"+url.PathEscape(slotID)+"/reserve", nil, nil)
}

// ReleaseSlot frees a slot held by the caller.
func (c *Client) ReleaseSlot(ctx context.Context, slotID string) error {
	return c.call(ctx, c.authed, http.MethodPost, "/api/slots/"+url.PathEscape(slotID)+"/release", nil, nil)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		ErrorCode string            `json:"errorCode"`
		Message   string            `json:"message"`
		Errors    map[string]string `json:"errors"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.ErrorCode
		apiErr.Message = body.Message
		apiErr.Fields = body.Errors
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
