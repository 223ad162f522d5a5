package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/abdul-hamid-achik/batchpress/internal/apperror"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
)

// downloadHandler streams a finished job's archive. The job is torn down
// only after the whole archive was written; a failed transfer releases the
// claim so the client can retry.
func downloadHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		log := logger.FromContext(r.Context()).With("job_id", id)

		d, err := cfg.Jobs.Fetch(r.Context(), id)
		if err != nil {
			var notReady *job.NotReadyError
			switch {
			case errors.As(err, &notReady):
				metrics.RecordDownload("not_ready")
				apperror.WriteJSONWithStatus(w, r, apperror.Wrap(err, apperror.ErrNotReady), string(notReady.Status))
			case errors.Is(err, job.ErrNotFound):
				metrics.RecordDownload("not_found")
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrNotFound))
			default:
				apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			}
			return
		}

		f, err := d.Open()
		if err != nil {
			d.Release()
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name))
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, f)
		if err == nil && n != d.Size {
			err = fmt.Errorf("short transfer: %d of %d bytes", n, d.Size)
		}
		if err != nil {
			log.Warn("download interrupted", "bytes", n, "error", err)
			d.Release()
			return
		}

		if err := d.Complete(context.WithoutCancel(r.Context())); err != nil {
			log.Error("teardown after download failed", "error", err)
			return
		}
		log.Info("archive downloaded", "bytes", n)
	}
}
