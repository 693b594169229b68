package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/logging"
)

// Error codes carried in the errorCode field of error bodies.
const (
	CodeAccessTokenExpired   = "AUTH_ACCESS_TOKEN_EXPIRED"
	CodeAccessTokenInvalid   = "AUTH_ACCESS_TOKEN_INVALID"
	CodeSessionRevoked       = "AUTH_SESSION_REVOKED"
	CodeSessionExpired       = "AUTH_SESSION_EXPIRED"
	CodeSessionNotFound      = "AUTH_SESSION_NOT_FOUND"
	CodeRenewalTokenMismatch = "AUTH_RENEWAL_TOKEN_MISMATCH"
	CodeInvalidCredentials   = "AUTH_INVALID_CREDENTIALS"
	CodeForbidden            = "AUTH_FORBIDDEN"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeDoctorNotFound       = "DOCTOR_NOT_FOUND"
	CodeSlotNotFound         = "SLOT_NOT_FOUND"
	CodeSlotAlreadyBooked    = "SLOT_ALREADY_BOOKED"
	CodeSlotNotOwner         = "SLOT_NOT_OWNER"
	CodeSlotNotBooked        = "SLOT_NOT_BOOKED"
	CodeAlreadyExists        = "ALREADY_EXISTS"
	CodeInternal             = "INTERNAL_ERROR"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
)

var (
	errBadRequestBody     = errors.New("無効なリクエスト形式です。")
	errMissingAccessToken = errors.New("アクセストークンを指定してください。")
)

type errorResponse struct {
	ErrorCode string            `json:"errorCode,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: the first matching sentinel wins.
var serviceErrorMappings = []errorMapping{
	{application.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, "メールアドレスまたはパスワードが正しくありません。"},
	{application.ErrAccessTokenExpired, http.StatusUnauthorized, CodeAccessTokenExpired, "アクセストークンの有効期限が切れています。"},
	{application.ErrInvalidAccessToken, http.StatusUnauthorized, CodeAccessTokenInvalid, "アクセストークンが無効です。"},
	{application.ErrSessionRevoked, http.StatusUnauthorized, CodeSessionRevoked, "セッションは失効しています。再度ログインしてください。"},
	{application.ErrSessionExpired, http.StatusUnauthorized, CodeSessionExpired, "セッションの有効期限が切れています。再度ログインしてください。"},
	{application.ErrRenewalTokenMismatch, http.StatusConflict, CodeRenewalTokenMismatch, "更新トークンが一致しません。再度ログインしてください。"},
	{application.ErrSessionNotFound, http.StatusNotFound, CodeSessionNotFound, "セッションが見つかりません。"},
	{application.ErrUnauthorized, http.StatusForbidden, CodeForbidden, "この操作を実行する権限がありません。"},
	{application.ErrDoctorNotFound, http.StatusNotFound, CodeDoctorNotFound, "指定された医師が見つかりません。"},
	{application.ErrSlotNotFound, http.StatusNotFound, CodeSlotNotFound, "指定された枠が見つかりません。"},
	{application.ErrNotFound, http.StatusNotFound, CodeNotFound, "指定されたリソースが見つかりません。"},
	{application.ErrSlotAlreadyBooked, http.StatusConflict, CodeSlotAlreadyBooked, "この枠はすでに予約されています。"},
	{application.ErrSlotNotOwner, http.StatusConflict, CodeSlotNotOwner, "この枠は別の患者が予約しています。"},
	{application.ErrSlotNotBooked, http.StatusConflict, CodeSlotNotBooked, "この枠は予約されていません。"},
	{application.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists, "すでに登録されています。"},
}

type responder struct {
	logger zerolog.Logger
}

func newResponder(logger zerolog.Logger) responder {
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
	}
	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, CodeInternal, errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: CodeValidationFailed,
			Message:   "入力内容に誤りがあります。",
			Errors:    localizeValidationErrors(vErr),
		})
		return
	}
	if application.ErrorKind(err) == application.KindValidation {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: CodeValidationFailed,
			Message:   "入力内容に誤りがあります。",
		})
		return
	}

	if status, body, ok := mapServiceError(err); ok {
		r.writeJSON(ctx, w, status, body)
		return
	}

	r.loggerFor(ctx).Error().Err(err).Msg("unexpected service error")
	r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
		ErrorCode: CodeInternal,
		Message:   "サーバー内部でエラーが発生しました。",
	})
}

func mapServiceError(err error) (int, errorResponse, bool) {
	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.target) {
			return m.status, errorResponse{ErrorCode: m.code, Message: m.message}, true
		}
	}
	return 0, errorResponse{}, false
}

func (r responder) loggerFor(ctx context.Context) *zerolog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return &r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "サービスを利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "email is required":
		return "メールアドレスは必須です。"
	case "email is invalid":
		return "メールアドレスの形式が不正です。"
	case "password is required":
		return "パスワードは必須です。"
	case "display name is required":
		return "表示名は必須です。"
	case "role must be patient, doctor or admin":
		return "ロールは patient、doctor、admin のいずれかを指定してください。"
	case "device id is required":
		return "端末 ID は必須です。"
	case "user id is required":
		return "ユーザー ID は必須です。"
	case "user has not applied as a doctor":
		return "このユーザーは医師として申請していません。"
	case "doctor id is required":
		return "医師 ID は必須です。"
	case "date must be formatted as YYYY-MM-DD":
		return "日付は YYYY-MM-DD 形式で指定してください。"
	case "at least one time range is required":
		return "少なくとも 1 つの時間帯を指定してください。"
	case "start and end must be formatted as HH:MM":
		return "開始時刻と終了時刻は HH:MM 形式で指定してください。"
	case "end time must be after start time":
		return "終了時刻は開始時刻より後である必要があります。"
	default:
		if strings.HasPrefix(message, "password must be at least") {
			return "パスワードが短すぎます: " + strings.TrimSpace(strings.TrimPrefix(message, "password must be at least"))
		}
		return message
	}
}
