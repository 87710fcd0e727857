// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 解析できない場合はValidationErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return model.NewValidationError("request body is too large")
		case errors.Is(err, io.EOF):
			return model.NewValidationError("request body is required")
		default:
			return model.NewValidationError("request body must be valid JSON")
		}
	}
	return nil
}

// pathID はURLパラメータを正の整数IDとして解析する。
func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(key + " must be a positive integer")
	}
	return id, nil
}

// errorWriter は開発モードかどうかに応じてサービス層のエラーを応答に変換する。
type errorWriter struct {
	development bool
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteServiceError(w, r, err, e.development)
}
