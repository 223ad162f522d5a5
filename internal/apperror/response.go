package apperror

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Status  string `json:"status,omitempty"`
}

func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, r, err, "")
}

// WriteJSONWithStatus is WriteJSON with the job status echoed back, used for
// not-ready responses so a client can tell a running job from a failed one.
func WriteJSONWithStatus(w http.ResponseWriter, r *http.Request, err error, status string) {
	writeJSON(w, r, err, status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, err error, status string) {
	log := logger.FromContext(r.Context())

	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Wrap(err, ErrInternal)
	}

	if appErr.Internal != nil && appErr.StatusCode >= http.StatusInternalServerError {
		log.Error("request error",
			"code", appErr.Code,
			"internal_error", appErr.Internal.Error(),
		)
	} else {
		log.Warn("request error", "code", appErr.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   appErr.Code,
		Code:    appErr.Code,
		Message: appErr.Message,
		File:    appErr.File,
		Status:  status,
	})
}
