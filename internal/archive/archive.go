// Package archive packages a job's output directory into a single zip.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
	"github.com/klauspost/compress/flate"
)

var ErrArchiveFailed = errors.New("archive: failed to build archive")

type Result struct {
	Path  string `json:"path"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// Archiver writes zip files with deflate at the given level.
type Archiver struct {
	level int
}

func New() *Archiver {
	return &Archiver{level: flate.BestCompression}
}

// FileName is the archive name used for a job.
func FileName(jobID string) string {
	return "result-" + jobID + ".zip"
}

// Archive zips every regular file under outputDir, with paths relative to
// it, into dest. The archive is assembled at dest+".part" and renamed once
// complete, so dest either does not exist or is a whole archive. Dot files
// are in-flight worker artifacts and are left out.
func (a *Archiver) Archive(ctx context.Context, jobID, outputDir, dest string) (*Result, error) {
	log := logger.FromContext(ctx).With("job_id", jobID)

	info, err := os.Stat(outputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrArchiveFailed, outputDir)
	}

	tmp := dest + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, a.level)
	})

	files := 0
	err = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == outputDir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close zip: %v", ErrArchiveFailed, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync: %v", ErrArchiveFailed, err)
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close: %v", ErrArchiveFailed, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		committed = true
		return nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	committed = true

	metrics.RecordArchive(size)
	log.Info("archive written", "path", dest, "files", files, "bytes", size)

	return &Result{Path: dest, Files: files, Bytes: size}, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
