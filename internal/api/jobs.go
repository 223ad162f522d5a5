package api

import (
	"errors"
	"net/http"

	"github.com/abdul-hamid-achik/batchpress/internal/apperror"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
)

// JobResponse is the polling view of a job.
type JobResponse struct {
	job.Job
	DownloadURL string `json:"downloadUrl,omitempty"`
}

type CancelResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func getJobHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := cfg.Jobs.Get(r.PathValue("id"))
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrNotFound))
			return
		}

		resp := JobResponse{Job: j}
		if j.Status == job.StatusDone {
			resp.DownloadURL = "/download/" + j.ID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelJobHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		err := cfg.Jobs.Cancel(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, CancelResponse{JobID: id, Status: "cancelling"})
		case errors.Is(err, job.ErrNotFound):
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrNotFound))
		case errors.Is(err, job.ErrAlreadyFinished):
			status := ""
			if j, getErr := cfg.Jobs.Get(id); getErr == nil {
				status = string(j.Status)
			}
			apperror.WriteJSONWithStatus(w, r, apperror.Wrap(err, apperror.ErrConflict), status)
		default:
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
		}
	}
}
