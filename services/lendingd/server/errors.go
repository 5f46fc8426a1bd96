package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"moneymarket/native/lending"
	"moneymarket/native/lending/rewards"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor maps engine errors onto HTTP statuses. Arithmetic failures are
// server errors; business rejections are client errors.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if lending.IsFatal(err) {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrMarketNotListed):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrNotInitialized), errors.Is(err, lending.ErrParamsVersion),
		errors.Is(err, lending.ErrPriceError):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, lending.ErrShortfall),
		errors.Is(err, lending.ErrInsufficientShortfall),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientCash),
		errors.Is(err, lending.ErrBorrowCapExceeded),
		errors.Is(err, lending.ErrNonzeroBorrowBalance),
		errors.Is(err, lending.ErrMarketAlreadyListed),
		errors.Is(err, rewards.ErrInsufficientRewards):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		payload, _ = json.Marshal(errorBody{Error: errorDetail{Code: "INTERNAL", Message: "encode response"}})
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeRaw(w, status, mustJSON(v))
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
