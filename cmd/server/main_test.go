package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docscope/internal/app"
	"docscope/internal/config"
	"docscope/internal/indexer"
	"docscope/internal/queue"
	"docscope/internal/retrieval"
	"docscope/internal/store"
)

func newTestDeps(t *testing.T, m indexer.Manager, q queue.Queue) app.Deps {
	t.Helper()
	return app.Deps{
		Manager: m,
		Queue:   q,
		Config: config.Config{
			DataDir:        t.TempDir(),
			MaxUploadSize:  1024 * 1024, // 1MB for tests
			MaxUploadFiles: 2,
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type upload struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func pdfUpload(name string) upload {
	return upload{field: "files", filename: name, contentType: "application/pdf", content: []byte("%PDF-1.4 " + name)}
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postFiles(t *testing.T, h http.Handler, path string, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func stagingEntries(t *testing.T, deps app.Deps) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(deps.Config.StagingDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestBulkUploadHandler(t *testing.T) {
	tests := []struct {
		name       string
		files      []upload
		setup      func(*indexer.MockManager)
		wantStatus int
		check      func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:  "partial success",
			files: []upload{pdfUpload("a.pdf"), pdfUpload("b.pdf")},
			setup: func(m *indexer.MockManager) {
				m.On("IngestBatch", mock.Anything, mock.MatchedBy(func(items []indexer.BatchItem) bool {
					if len(items) != 2 || items[0].Filename != "a.pdf" || items[1].Filename != "b.pdf" {
						return false
					}
					for _, it := range items {
						if _, err := os.Stat(it.Path); err != nil {
							return false
						}
					}
					return true
				}), indexer.IngestOptions{}).Return(indexer.BatchResult{
					Successful: []indexer.IngestResult{{DocID: "abc", Filename: "a.pdf", Sections: 3}},
					Failed:     []indexer.BatchFailure{{Filename: "b.pdf", Error: "no extractable text"}},
				}).Once()
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var res indexer.BatchResult
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
				require.Len(t, res.Successful, 1)
				assert.Equal(t, "abc", res.Successful[0].DocID)
				require.Len(t, res.Failed, 1)
				assert.Equal(t, "b.pdf", res.Failed[0].Filename)
			},
		},
		{
			name:       "too many files",
			files:      []upload{pdfUpload("a.pdf"), pdfUpload("b.pdf"), pdfUpload("c.pdf")},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not a pdf",
			files:      []upload{{field: "files", filename: "notes.txt", contentType: "text/plain", content: []byte("hi")}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "pdf extension with wrong content type",
			files:      []upload{{field: "files", filename: "notes.pdf", contentType: "application/msword", content: []byte("hi")}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty file",
			files:      []upload{{field: "files", filename: "empty.pdf", contentType: "application/pdf"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "file too large",
			files:      []upload{{field: "files", filename: "big.pdf", contentType: "application/pdf", content: make([]byte, 1024*1024+1)}},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "no files",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(indexer.MockManager)
			if tt.setup != nil {
				tt.setup(m)
			}
			deps := newTestDeps(t, m, new(queue.MockQueue))

			rec := postFiles(t, newRouter(deps), "/api/documents/upload/bulk", tt.files...)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec)
			}
			assert.Empty(t, stagingEntries(t, deps), "staged uploads must be cleaned up")
			m.AssertExpectations(t)
		})
	}
}

func TestFreshUploadHandler(t *testing.T) {
	t.Run("reprocesses with fresh flag", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("IngestFile", mock.Anything, mock.AnythingOfType("string"), indexer.IngestOptions{Filename: "a.pdf", Fresh: true}).
			Return(indexer.IngestResult{DocID: "abc", Sections: 2}, nil).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))

		rec := postFiles(t, newRouter(deps), "/api/documents/upload/fresh", upload{
			field: "file", filename: "a.pdf", contentType: "application/pdf", content: []byte("%PDF"),
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		var res indexer.IngestResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
		assert.Equal(t, "abc", res.DocID)
		m.AssertExpectations(t)
	})

	t.Run("ingestion failure", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("IngestFile", mock.Anything, mock.Anything, mock.Anything).
			Return(indexer.IngestResult{}, errors.New("no extractable text")).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))

		rec := postFiles(t, newRouter(deps), "/api/documents/upload/fresh", pdfUpload("a.pdf"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Empty(t, stagingEntries(t, deps))
	})

	t.Run("more than one file", func(t *testing.T) {
		deps := newTestDeps(t, new(indexer.MockManager), new(queue.MockQueue))
		rec := postFiles(t, newRouter(deps), "/api/documents/upload/fresh", pdfUpload("a.pdf"), pdfUpload("b.pdf"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAsyncUploadHandler(t *testing.T) {
	t.Run("enqueues one task per file", func(t *testing.T) {
		q := new(queue.MockQueue)
		q.OnIngest(func(p queue.IngestPayload) bool {
			return strings.HasSuffix(p.Filename, ".pdf")
		}).Return(nil).Twice()
		deps := newTestDeps(t, new(indexer.MockManager), q)

		rec := postFiles(t, newRouter(deps), "/api/documents/upload/async", pdfUpload("a.pdf"), pdfUpload("b.pdf"))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var body struct {
			Tasks []asyncTask `json:"tasks"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Tasks, 2)
		assert.NotEmpty(t, body.Tasks[0].TaskID)
		assert.Equal(t, "b.pdf", body.Tasks[1].Filename)
		assert.Len(t, stagingEntries(t, deps), 2, "staged files stay until a worker ingests them")
		q.AssertExpectations(t)
	})

	t.Run("enqueue failure cleans up", func(t *testing.T) {
		q := new(queue.MockQueue)
		q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("queue down")).Times(3)
		deps := newTestDeps(t, new(indexer.MockManager), q)

		rec := postFiles(t, newRouter(deps), "/api/documents/upload/async", pdfUpload("a.pdf"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, stagingEntries(t, deps))
		q.AssertExpectations(t)
	})
}

func TestDocumentHandlers(t *testing.T) {
	doc := store.Document{
		ID:       "abc",
		Title:    "Biology Notes",
		Sections: []store.Section{{ID: "abc_s1", DocID: "abc", Heading: "Photosynthesis", PageNum: 1}},
	}

	tests := []struct {
		name       string
		method     string
		path       string
		setup      func(*indexer.MockManager)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "list documents",
			method: http.MethodGet,
			path:   "/api/documents",
			setup: func(m *indexer.MockManager) {
				m.On("ListDocuments", mock.Anything).Return([]indexer.DocumentSummary{{DocID: "abc", Title: "Biology Notes"}}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"total": 1`,
		},
		{
			name:   "get document",
			method: http.MethodGet,
			path:   "/api/documents/abc",
			setup: func(m *indexer.MockManager) {
				m.On("GetDocument", mock.Anything, "abc").Return(doc, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"title": "Biology Notes"`,
		},
		{
			name:   "unknown document",
			method: http.MethodGet,
			path:   "/api/documents/nope",
			setup: func(m *indexer.MockManager) {
				m.On("GetDocument", mock.Anything, "nope").Return(store.Document{}, fmt.Errorf("get nope: %w", store.ErrNotFound)).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "store failure",
			method: http.MethodGet,
			path:   "/api/documents/abc",
			setup: func(m *indexer.MockManager) {
				m.On("GetDocument", mock.Anything, "abc").Return(store.Document{}, errors.New("disk on fire")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:   "get section",
			method: http.MethodGet,
			path:   "/api/documents/abc/sections/abc_s1",
			setup: func(m *indexer.MockManager) {
				m.On("GetSection", mock.Anything, "abc", "abc_s1").Return(doc.Sections[0], nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"heading": "Photosynthesis"`,
		},
		{
			name:   "delete document",
			method: http.MethodDelete,
			path:   "/api/documents/abc",
			setup: func(m *indexer.MockManager) {
				m.On("Delete", mock.Anything, "abc").Return(nil).Once()
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:   "delete unknown document",
			method: http.MethodDelete,
			path:   "/api/documents/nope",
			setup: func(m *indexer.MockManager) {
				m.On("Delete", mock.Anything, "nope").Return(store.ErrNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "stats",
			method: http.MethodGet,
			path:   "/api/stats",
			setup: func(m *indexer.MockManager) {
				m.On("Stats", mock.Anything).Return(indexer.Stats{TotalDocuments: 2, IndexedVectors: 7}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"indexed_vectors": 7`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(indexer.MockManager)
			tt.setup(m)
			deps := newTestDeps(t, m, new(queue.MockQueue))

			rec := httptest.NewRecorder()
			newRouter(deps).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestRelatedHandler(t *testing.T) {
	resp := indexer.SearchResponse{
		SelectedText: "plants convert light",
		RelatedSections: []retrieval.RelatedSection{{
			DocID: "b", SectionID: "b_s1", Heading: "Glucose", SimilarityScore: 0.92, RelevanceType: retrieval.DirectMatch,
		}},
	}

	tests := []struct {
		name       string
		body       string
		setup      func(*indexer.MockManager)
		wantStatus int
		wantBody   string
	}{
		{
			name: "returns related sections",
			body: `{"selected_text":"plants convert light","current_doc_id":"a","top_k":3}`,
			setup: func(m *indexer.MockManager) {
				m.On("SearchRelated", mock.Anything, indexer.SearchRequest{
					SelectedText: "plants convert light", CurrentDocID: "a", TopK: 3,
				}).Return(resp, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"relevance_type": "direct_match"`,
		},
		{
			name: "top_k defaults when omitted",
			body: `{"selected_text":"plants convert light"}`,
			setup: func(m *indexer.MockManager) {
				m.On("SearchRelated", mock.Anything, indexer.SearchRequest{SelectedText: "plants convert light"}).
					Return(indexer.SearchResponse{RelatedSections: []retrieval.RelatedSection{}}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"related_sections": []`,
		},
		{
			name:       "selected text too short",
			body:       `{"selected_text":"abc"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"selected_text"`,
		},
		{
			name:       "top_k out of range",
			body:       `{"selected_text":"plants convert light","top_k":50}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"top_k"`,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "query rejected by engine",
			body: `{"selected_text":"     a    "}`,
			setup: func(m *indexer.MockManager) {
				m.On("SearchRelated", mock.Anything, mock.Anything).Return(indexer.SearchResponse{}, retrieval.ErrQueryTooShort).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "search failure",
			body: `{"selected_text":"plants convert light"}`,
			setup: func(m *indexer.MockManager) {
				m.On("SearchRelated", mock.Anything, mock.Anything).Return(indexer.SearchResponse{}, errors.New("embedder offline")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(indexer.MockManager)
			if tt.setup != nil {
				tt.setup(m)
			}
			deps := newTestDeps(t, m, new(queue.MockQueue))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/selection/related", strings.NewReader(tt.body))
			newRouter(deps).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestNavigateHandler(t *testing.T) {
	t.Run("returns navigation target", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("Navigate", mock.Anything, "abc", "abc_s2").Return(indexer.Navigation{
			DocID: "abc", SectionID: "abc_s2", PageNum: 2, PrevID: "abc_s1",
			Navigation: indexer.NavTarget{Page: 2, Location: indexer.Location{Left: 0, Top: 100}},
		}, nil).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/selection/navigate", strings.NewReader(`{"doc_id":"abc","section_id":"abc_s2"}`))
		newRouter(deps).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var nav indexer.Navigation
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&nav))
		assert.Equal(t, 2, nav.Navigation.Page)
		assert.Equal(t, "abc_s1", nav.PrevID)
		m.AssertExpectations(t)
	})

	t.Run("missing section id", func(t *testing.T) {
		deps := newTestDeps(t, new(indexer.MockManager), new(queue.MockQueue))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/selection/navigate", strings.NewReader(`{"doc_id":"abc"}`))
		newRouter(deps).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown section", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("Navigate", mock.Anything, "abc", "abc_s9").Return(indexer.Navigation{}, store.ErrNotFound).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/selection/navigate", strings.NewReader(`{"doc_id":"abc","section_id":"abc_s9"}`))
		newRouter(deps).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestIngestHandler(t *testing.T) {
	task := func(t *testing.T, path string) queue.Task {
		t.Helper()
		task, err := queue.NewIngestTask(queue.IngestPayload{Path: path, Filename: "a.pdf"})
		require.NoError(t, err)
		return task
	}

	t.Run("removes staged file after ingestion", func(t *testing.T) {
		m := new(indexer.MockManager)
		deps := newTestDeps(t, m, new(queue.MockQueue))
		require.NoError(t, os.MkdirAll(deps.Config.StagingDir(), 0o755))
		path := filepath.Join(deps.Config.StagingDir(), "upload-1.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
		m.On("IngestFile", mock.Anything, path, indexer.IngestOptions{Filename: "a.pdf"}).
			Return(indexer.IngestResult{DocID: "abc"}, nil).Once()

		require.NoError(t, ingestHandler(deps)(context.Background(), task(t, path)))
		assert.NoFileExists(t, path)
		m.AssertExpectations(t)
	})

	t.Run("keeps watched file", func(t *testing.T) {
		m := new(indexer.MockManager)
		deps := newTestDeps(t, m, new(queue.MockQueue))
		path := filepath.Join(t.TempDir(), "watched.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
		m.On("IngestFile", mock.Anything, path, mock.Anything).Return(indexer.IngestResult{DocID: "abc"}, nil).Once()

		require.NoError(t, ingestHandler(deps)(context.Background(), task(t, path)))
		assert.FileExists(t, path)
	})

	t.Run("failure is returned for retry", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("IngestFile", mock.Anything, mock.Anything, mock.Anything).Return(indexer.IngestResult{}, errors.New("store down")).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))
		assert.Error(t, ingestHandler(deps)(context.Background(), task(t, "/tmp/a.pdf")))
	})

	t.Run("vanished file is dropped", func(t *testing.T) {
		m := new(indexer.MockManager)
		m.On("IngestFile", mock.Anything, mock.Anything, mock.Anything).
			Return(indexer.IngestResult{}, fmt.Errorf("read: %w", os.ErrNotExist)).Once()
		deps := newTestDeps(t, m, new(queue.MockQueue))
		assert.NoError(t, ingestHandler(deps)(context.Background(), task(t, "/tmp/gone.pdf")))
	})

	t.Run("malformed task is dropped", func(t *testing.T) {
		deps := newTestDeps(t, new(indexer.MockManager), new(queue.MockQueue))
		bad := queue.Task{Type: queue.TaskTypeIngest, Payload: []byte("{")}
		assert.NoError(t, ingestHandler(deps)(context.Background(), bad))
	})
}

func TestEnqueueWatched(t *testing.T) {
	q := new(queue.MockQueue)
	q.OnIngest(func(p queue.IngestPayload) bool {
		return p.Path == "/watch/report.pdf" && p.Filename == "report.pdf"
	}).Return(nil).Once()
	deps := newTestDeps(t, new(indexer.MockManager), q)

	require.NoError(t, enqueueWatched(deps)(context.Background(), "/watch/report.pdf"))
	q.AssertExpectations(t)
	payloads := q.IngestPayloads()
	require.Len(t, payloads, 1)
	assert.False(t, payloads[0].Fresh)
}

func TestHealthEndpoints(t *testing.T) {
	m := new(indexer.MockManager)
	m.On("Stats", mock.Anything).Return(indexer.Stats{}, nil)
	deps := newTestDeps(t, m, new(queue.MockQueue))
	r := newRouter(deps)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
