// Package http provides HTTP handlers and middleware for the clinic scheduler API.
//
// The router exposes the following endpoints:
//   - POST /api/auth/login: {"email","password","deviceId","deviceName"} issues a
//     session. Response: {"accessToken","accessTokenExpiresAt","refreshToken",
//     "refreshTokenExpiresAt","sessionId","role","user"}. An earlier live session
//     of the same device is revoked.
//   - POST /api/auth/refresh: {"sessionId","refreshToken"} rotates the refresh
//     token and returns a new credential pair of the same shape minus "user".
//   - POST /api/auth/logout: revokes {"sessionId"} or, with an empty body, the
//     session behind the access token. Returns 204 No Content.
//   - GET /api/auth/sessions[?userId=], DELETE /api/auth/sessions/{sessionId}:
//     device session management for the owner or an administrator.
//   - POST /api/auth/register: {"email","password","displayName","applyAsDoctor"}.
//   - GET /api/users/me, GET /api/doctors.
//   - GET /api/admin/doctors/pending, POST /api/admin/doctors/approve {"userId"}:
//     administrator only.
//   - POST /api/doctor/availability/generate: {"doctorId","date","slots":[{"start","end"}]}
//     replaces the doctor's slots for the day. Doctor only, and only for themselves.
//   - GET /api/doctors/{doctorId}/slots?date=YYYY-MM-DD: [{"slotId","start","end","booked"}].
//   - POST /api/slots/{slotId}/reserve, POST /api/slots/{slotId}/release: patient only.
//   - GET /health, GET /ready, GET /metrics.
//
// Errors are returned as {"errorCode","message","errors"}. A 401 carrying
// AUTH_ACCESS_TOKEN_EXPIRED or AUTH_ACCESS_TOKEN_INVALID may be recovered by
// one renewal; AUTH_SESSION_REVOKED requires a new login.
package http
