package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/apperror"
	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
)

// uploadField is the multipart field carrying the files of a batch.
const uploadField = "files"

type UploadResponse struct {
	JobID string `json:"jobId"`
}

func uploadHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category, err := intake.ParseCategory(r.PathValue("type"))
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, "unknown_type",
				"Upload type must be image or video", http.StatusBadRequest))
			return
		}

		if cfg.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestSize)
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrFileTooLarge))
				return
			}
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrBadRequest.Code,
				fmt.Sprintf("Expected a multipart form with files in the %q field", uploadField), http.StatusBadRequest))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		uploads := intake.FromMultipart(r.MultipartForm.File[uploadField])
		files, err := cfg.Intake.Accept(r.Context(), category, uploads)
		if err != nil {
			var ve *intake.ValidationError
			if errors.As(err, &ve) {
				apperror.WriteJSON(w, r, rejection(cfg.Intake, category, ve))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		id, err := cfg.Jobs.Submit(r.Context(), category, files)
		if err != nil {
			cfg.Intake.Discard(files)
			if errors.Is(err, job.ErrShuttingDown) {
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrServiceUnavailable))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		writeJSON(w, http.StatusAccepted, UploadResponse{JobID: id})
	}
}

// rejection turns an intake rejection into a 400 naming the offending file.
func rejection(v *intake.Validator, category intake.Category, ve *intake.ValidationError) *apperror.Error {
	rule, _ := v.Rule(category)

	code := apperror.ErrBadRequest.Code
	var msg string
	switch {
	case errors.Is(ve, intake.ErrUnsupportedType):
		code = apperror.ErrInvalidFileType.Code
		msg = fmt.Sprintf("%s is not an accepted %s file (allowed: %s)", ve.File, category, strings.Join(rule.Extensions, ", "))
	case errors.Is(ve, intake.ErrTooLarge):
		code = apperror.ErrFileTooLarge.Code
		msg = fmt.Sprintf("%s exceeds the %s limit for %s uploads", ve.File, formatBytes(rule.MaxSize), category)
	case errors.Is(ve, intake.ErrNoFiles):
		code = "no_files"
		msg = fmt.Sprintf("No files uploaded in the %q field", uploadField)
	case errors.Is(ve, intake.ErrUnsafeName):
		code = "invalid_file_name"
		msg = fmt.Sprintf("%q is not a usable file name", ve.File)
	default:
		msg = ve.Error()
	}

	return &apperror.Error{
		Code:       code,
		Message:    msg,
		StatusCode: http.StatusBadRequest,
		Internal:   ve,
		File:       ve.File,
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.4g %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
