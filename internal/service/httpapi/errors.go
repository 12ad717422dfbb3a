package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/auth"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/service/idempotency"
)

const (
	msgInternal        = "internal server error"
	msgOrderNotSaved   = "order could not be saved"
	msgInvalidBody     = "invalid request body"
	msgUnauthorized    = "unauthorized"
	msgTooManyRequests = "rate limit exceeded"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет доменную ошибку с HTTP-статусом и сообщением для клиента.
// Ошибки хранилищ наружу не раскрываются.
func statusFor(err error) (int, string) {
	var (
		persistErr *domain.PersistenceError
		capErr     *domain.CapacityError
	)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case domain.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &capErr):
		return http.StatusBadRequest, capErr.Error()
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, msgOrderNotSaved
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrLessonNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrOrderAlreadyDone):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, idempotency.ErrKeyTooLong):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, msgUnauthorized
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError пишет ответ по ошибке; 5xx дополнительно логируются.
func writeDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	}
	writeError(w, status, msg)
}

// errorBody сериализует ответ об ошибке для сохранения в idempotency-кеше.
func errorBody(msg string) []byte {
	b, _ := json.Marshal(errorResponse{Error: msg})
	return b
}
