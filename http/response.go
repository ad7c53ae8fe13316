package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market/providers"
)

// Envelope 统一响应结构，code 与 HTTP 状态码一致
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respond(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Code: status, Message: message, Data: data})
}

// respondJSON 成功响应
func respondJSON(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, "success", data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, message, nil)
}

// statusFor maps an error to its HTTP status: request problems are 4xx,
// upstream outages 503, anything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, diagnosis.ErrInvalidCode), errors.Is(err, diagnosis.ErrInvalidCategory):
		return http.StatusBadRequest
	case errors.Is(err, diagnosis.ErrStockNotFound), errors.Is(err, diagnosis.ErrNoHistory),
		errors.Is(err, providers.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, diagnosis.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	switch providers.KindOf(err) {
	case providers.KindAllFailed, providers.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
