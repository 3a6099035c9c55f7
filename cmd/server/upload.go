package main

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"docscope/internal/app"
	"docscope/internal/httputil"
	"docscope/internal/indexer"
	"docscope/internal/queue"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to disk.
const multipartMemory = 32 << 20

var (
	errNoFiles     = errors.New("no files uploaded")
	errTooMany     = errors.New("too many files")
	errNotPDF      = errors.New("only PDF files are accepted")
	errFileTooBig  = errors.New("file too large")
	errEmptyUpload = errors.New("empty file")
)

// stagedFile is an uploaded PDF copied to the staging directory.
type stagedFile struct {
	Path     string
	Filename string
}

type asyncTask struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
}

func bulkUploadHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := stageUploads(deps, w, r)
		if err != nil {
			failUpload(deps, w, err)
			return
		}
		defer removeStaged(deps, files)

		items := make([]indexer.BatchItem, len(files))
		for i, f := range files {
			items[i] = indexer.BatchItem{Path: f.Path, Filename: f.Filename}
		}
		result := deps.Manager.IngestBatch(r.Context(), items, indexer.IngestOptions{})
		deps.Log.Info("bulk upload processed", "successful", len(result.Successful), "failed", len(result.Failed))
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

func freshUploadHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := stageUploads(deps, w, r)
		if err != nil {
			failUpload(deps, w, err)
			return
		}
		defer removeStaged(deps, files)
		if len(files) != 1 {
			httputil.Fail(deps.Log, w, "exactly one file is required", errTooMany, http.StatusBadRequest)
			return
		}

		res, err := deps.Manager.IngestFile(r.Context(), files[0].Path, indexer.IngestOptions{
			Filename: files[0].Filename,
			Fresh:    true,
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to process document", err, http.StatusUnprocessableEntity)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

// asyncUploadHandler stages the files and hands them to ingest workers. The
// staged copies are removed by the worker once ingested.
func asyncUploadHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := stageUploads(deps, w, r)
		if err != nil {
			failUpload(deps, w, err)
			return
		}

		tasks := make([]asyncTask, 0, len(files))
		for i, f := range files {
			task, err := queue.NewIngestTask(queue.IngestPayload{Path: f.Path, Filename: f.Filename})
			if err == nil {
				err = queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond)
			}
			if err != nil {
				removeStaged(deps, files[i:])
				httputil.Fail(deps.Log, w, "failed to enqueue document; please retry", err, http.StatusInternalServerError)
				return
			}
			tasks = append(tasks, asyncTask{TaskID: task.ID.String(), Filename: f.Filename})
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"tasks": tasks})
	}
}

// stageUploads validates the multipart body and copies every PDF part to the
// staging directory. On error nothing is left behind.
func stageUploads(deps app.Deps, w http.ResponseWriter, r *http.Request) ([]stagedFile, error) {
	cfg := deps.Config
	maxFiles := max(cfg.MaxUploadFiles, 1)
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize*int64(maxFiles)+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", errFileTooBig, tooBig.Limit)
		}
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["file"])
	if len(headers) == 0 {
		return nil, errNoFiles
	}
	if len(headers) > maxFiles {
		return nil, fmt.Errorf("%w: got %d, max %d", errTooMany, len(headers), maxFiles)
	}
	for _, h := range headers {
		if err := validatePDF(h, cfg.MaxUploadSize); err != nil {
			return nil, err
		}
	}

	dir := cfg.StagingDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	staged := make([]stagedFile, 0, len(headers))
	for _, h := range headers {
		path, err := stage(dir, h)
		if err != nil {
			removeStaged(deps, staged)
			return nil, err
		}
		staged = append(staged, stagedFile{Path: path, Filename: filepath.Base(h.Filename)})
	}
	return staged, nil
}

func validatePDF(h *multipart.FileHeader, maxSize int64) error {
	name := filepath.Base(h.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return fmt.Errorf("%w: %s", errNotPDF, name)
	}
	if ct := h.Header.Get("Content-Type"); ct != "" && ct != "application/pdf" && ct != "application/octet-stream" {
		return fmt.Errorf("%w: %s has content type %s", errNotPDF, name, ct)
	}
	if h.Size == 0 {
		return fmt.Errorf("%w: %s", errEmptyUpload, name)
	}
	if maxSize > 0 && h.Size > maxSize {
		return fmt.Errorf("%w: %s is %d bytes, max %d", errFileTooBig, name, h.Size, maxSize)
	}
	return nil
}

func stage(dir string, h *multipart.FileHeader) (string, error) {
	src, err := h.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(dir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func removeStaged(deps app.Deps, files []stagedFile) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			deps.Log.Warn("failed to remove staged upload", "path", f.Path, "err", err)
		}
	}
}

func failUpload(deps app.Deps, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, errFileTooBig):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFiles), errors.Is(err, errTooMany), errors.Is(err, errNotPDF), errors.Is(err, errEmptyUpload):
	default:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			status = http.StatusInternalServerError
		}
	}
	httputil.Fail(deps.Log, w, err.Error(), err, status)
}
