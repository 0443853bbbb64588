package utils

import (
	"encoding/json"
	"net/http"

	"github.com/zhouzirui/z-match/backend/internal/logging"
)

// RespondJSON 发送JSON响应。先编码再写头，编码失败时返回 500 而不是半截响应。
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger := logging.Component("http")
		logger.Error().Err(err).Int("status", status).Msg("failed to encode response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		logger := logging.Component("http")
		logger.Warn().Err(err).Int("status", status).Msg("failed to write response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}
