package api

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/apperror"
	"github.com/abdul-hamid-achik/batchpress/internal/archive"
	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
	"github.com/abdul-hamid-achik/batchpress/internal/worker"
)

// copyRunner stands in for the compressor: it copies every input into the
// output directory, optionally waiting for release first.
type copyRunner struct {
	release chan struct{}
}

func (r *copyRunner) Run(ctx context.Context, t worker.Task, sink progress.Publisher) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", worker.ErrStopped, ctx.Err())
		}
	}
	for _, in := range t.Inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(t.OutputDir, filepath.Base(in)), data, 0o644); err != nil {
			return err
		}
		_ = sink.Publish(ctx, progress.Progress(t.JobID, "Compressed "+filepath.Base(in)))
	}
	return nil
}

type testServer struct {
	handler http.Handler
	orch    *job.Orchestrator
	uploads string
}

func newTestServer(t *testing.T, runner *copyRunner, maxImage int64) *testServer {
	t.Helper()
	root := t.TempDir()

	uploads := filepath.Join(root, "uploads")
	hub := progress.NewHub(progress.HubConfig{Replay: 100})
	orch := job.NewOrchestrator(job.Config{JobsDir: filepath.Join(root, "jobs")}, runner, archive.New(), hub)
	t.Cleanup(func() {
		if runner.release != nil {
			select {
			case <-runner.release:
			default:
				close(runner.release)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	cfg := &Config{
		Intake: intake.NewValidator(uploads, maxImage, 1<<20),
		Jobs:   orch,
		Events: hub,
	}
	return &testServer{handler: NewRouter(cfg), orch: orch, uploads: uploads}
}

type part struct {
	name    string
	content string
}

func multipartBody(t *testing.T, field string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(field, p.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, p.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T, category string, parts ...part) string {
	t.Helper()
	body, contentType := multipartBody(t, "files", parts...)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+category, body)
	req.Header.Set("Content-Type", contentType)

	rec := s.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("upload response has no jobId")
	}
	return resp.JobID
}

func (s *testServer) waitFor(t *testing.T, id string, want job.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := s.orch.Get(id)
		if err == nil && j.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s: status = %s (err %v), want %s", id, j.Status, err, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperror.ErrorResponse {
	t.Helper()
	var resp apperror.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestPing(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != true || body["ping"] != "pong" {
		t.Errorf("body = %v", body)
	}
}

func TestPingMethod(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := s.do(t, httptest.NewRequest(method, "/ping", nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s /ping: status = %d, want 405", method, rec.Code)
			}
		})
	}
}

func TestUploadToDownload(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	id := s.submit(t, "image", part{"a.jpg", "first"}, part{"b.JPEG", "second"})
	s.waitFor(t, id, job.StatusDone)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /jobs status = %d", rec.Code)
	}
	var snapshot JobResponse
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != job.StatusDone || snapshot.DownloadURL != "/download/"+id {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if len(snapshot.Inputs) != 2 || snapshot.Inputs[0].OriginalName != "a.jpg" {
		t.Errorf("inputs = %+v", snapshot.Inputs)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, archive.FileName(id)) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("archive has %d entries, want 2", len(zr.File))
	}

	entries, err := os.ReadDir(s.uploads)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("uploads not removed after success: %d left", len(entries))
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second download status = %d, want 404", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "not_found" {
		t.Errorf("second download code = %q", resp.Code)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("job still visible after download: status %d", rec.Code)
	}
}

func TestUploadRejected(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 8)

	tests := []struct {
		name     string
		path     string
		field    string
		parts    []part
		wantCode string
		wantFile string
	}{
		{
			name:     "disallowed extension",
			path:     "/upload/image",
			field:    "files",
			parts:    []part{{"ok.jpg", "x"}, {"notes.png", "x"}},
			wantCode: "invalid_file_type",
			wantFile: "notes.png",
		},
		{
			name:     "oversized file",
			path:     "/upload/image",
			field:    "files",
			parts:    []part{{"big.jpg", "more than eight bytes"}},
			wantCode: "file_too_large",
			wantFile: "big.jpg",
		},
		{
			name:     "video type checked against video rules",
			path:     "/upload/video",
			field:    "files",
			parts:    []part{{"clip.mov", "x"}},
			wantCode: "invalid_file_type",
			wantFile: "clip.mov",
		},
		{
			name:     "no files",
			path:     "/upload/image",
			field:    "other",
			parts:    []part{{"a.jpg", "x"}},
			wantCode: "no_files",
		},
		{
			name:     "unknown type",
			path:     "/upload/audio",
			field:    "files",
			parts:    []part{{"a.mp3", "x"}},
			wantCode: "unknown_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.field, tt.parts...)
			req := httptest.NewRequest(http.MethodPost, tt.path, body)
			req.Header.Set("Content-Type", contentType)

			rec := s.do(t, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantCode || resp.Error != tt.wantCode {
				t.Errorf("code = %q, error = %q, want %q", resp.Code, resp.Error, tt.wantCode)
			}
			if resp.File != tt.wantFile {
				t.Errorf("file = %q, want %q", resp.File, tt.wantFile)
			}
			if resp.Message == "" {
				t.Error("message is empty")
			}
		})
	}

	entries, _ := os.ReadDir(s.uploads)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d staged files", len(entries))
	}
	if jobs := s.orch.Store().List(); len(jobs) != 0 {
		t.Errorf("rejected uploads created %d jobs", len(jobs))
	}
}

func TestUploadNotMultipart(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/upload/image", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")

	rec := s.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDownloadNotReady(t *testing.T) {
	runner := &copyRunner{release: make(chan struct{})}
	s := newTestServer(t, runner, 1<<20)

	id := s.submit(t, "image", part{"a.jpg", "x"})
	s.waitFor(t, id, job.StatusRunning)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != "not_ready" || resp.Status != string(job.StatusRunning) {
		t.Errorf("response = %+v", resp)
	}

	close(runner.release)
	s.waitFor(t, id, job.StatusDone)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after completion = %d, want 200", rec.Code)
	}
}

func TestDownloadUnknownJob(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/download/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	runner := &copyRunner{release: make(chan struct{})}
	s := newTestServer(t, runner, 1<<20)

	id := s.submit(t, "image", part{"a.jpg", "x"})
	s.waitFor(t, id, job.StatusRunning)

	rec := s.do(t, httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}
	s.waitFor(t, id, job.StatusFailed)

	j, _ := s.orch.Get(id)
	if j.Error != "cancelled" {
		t.Errorf("error = %q, want cancelled", j.Error)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Status != string(job.StatusFailed) {
		t.Errorf("second cancel status field = %q", resp.Status)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/jobs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown cancel status = %d, want 404", rec.Code)
	}
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestProgressStream(t *testing.T) {
	runner := &copyRunner{release: make(chan struct{})}
	s := newTestServer(t, runner, 1<<20)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	id := s.submit(t, "image", part{"a.jpg", "x"}, part{"b.jpg", "y"})

	resp, err := http.Get(srv.URL + "/progress/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	close(runner.release)

	events := readEvents(t, resp.Body)
	if len(events) < 4 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].event != "status" {
		t.Errorf("first event = %q, want status", events[0].event)
	}

	var compressed int
	for _, ev := range events[1 : len(events)-1] {
		if ev.event == "progress" && strings.Contains(ev.data, "Compressed") {
			compressed++
		}
		if ev.id == "" {
			t.Errorf("event %q has no id", ev.event)
		}
	}
	if compressed != 2 {
		t.Errorf("compressed events = %d, want 2", compressed)
	}

	last := events[len(events)-1]
	var ev progress.Event
	if err := json.Unmarshal([]byte(last.data), &ev); err != nil {
		t.Fatal(err)
	}
	if last.event != "done" || ev.Message != progress.DoneMessage || ev.JobID != id {
		t.Errorf("last event = %+v", last)
	}
}

func TestProgressStream_FinishedJob(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	id := s.submit(t, "image", part{"a.jpg", "x"})
	s.waitFor(t, id, job.StatusDone)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/progress/"+id, nil))
	events := readEvents(t, rec.Body)
	if len(events) == 0 || events[0].event != "status" || !strings.Contains(events[0].data, "DONE") {
		t.Fatalf("events = %+v", events)
	}
	if last := events[len(events)-1]; last.event != "done" {
		t.Errorf("last event = %q, want done", last.event)
	}
}

func TestProgressStream_FailedJob(t *testing.T) {
	runner := &copyRunner{release: make(chan struct{})}
	s := newTestServer(t, runner, 1<<20)

	id := s.submit(t, "image", part{"a.jpg", "x"})
	s.waitFor(t, id, job.StatusRunning)
	if err := s.orch.Cancel(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	s.waitFor(t, id, job.StatusFailed)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/progress/"+id, nil))
	events := readEvents(t, rec.Body)
	last := events[len(events)-1]
	if last.event != "failed" || !strings.Contains(last.data, "cancelled") {
		t.Errorf("last event = %+v, want failed with reason", last)
	}
}

func TestProgressStream_UnknownJob(t *testing.T) {
	s := newTestServer(t, &copyRunner{}, 1<<20)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/progress/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{50 * 1024 * 1024, "50 MiB"},
		{2 * 1024 * 1024 * 1024, "2 GiB"},
		{1536, "1.5 KiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
