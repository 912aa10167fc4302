package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
)

// dataEnvelope は成功レスポンスの統一フォーマット。
type dataEnvelope struct {
	Data any `json:"data"`
}

// writeData は成功レスポンスをdataエンベロープで書き込む。
func writeData(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(dataEnvelope{Data: data})
}

// writeError はエラーを統一フォーマットのHTTPレスポンスに変換する。
// APIError以外のエラーは詳細を隠して500を返す。
func writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected handler error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
}

// statusForCode はエラーコードをHTTPステータスコードに対応付ける。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidCredentialsFormat, model.ErrCodeProviderStateMismatch, model.ErrCodeProviderConsentDenied:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeNoActiveSession, model.ErrCodeSessionInvalidated:
		return http.StatusUnauthorized
	case model.ErrCodeAccountRestricted:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailAlreadyInUse:
		return http.StatusConflict
	case model.ErrCodeProfileUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodePaymentVerifyFailed:
		return http.StatusBadGateway
	default:
		// 上位APIのエラーコードはそのまま透過し、502として扱う
		return http.StatusBadGateway
	}
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}
