package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Envelope 统一响应结构，code 为 200 表示成功
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondOK 发送成功的统一响应
func RespondOK(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusOK, Envelope{Code: http.StatusOK, Message: "success", Data: data})
}

// RespondError 发送错误响应，HTTP 状态码与 envelope code 保持一致
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Code: status, Message: message})
}
