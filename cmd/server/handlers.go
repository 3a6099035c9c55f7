package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docscope/internal/app"
	"docscope/internal/httputil"
	"docscope/internal/indexer"
	"docscope/internal/retrieval"
	"docscope/internal/store"
)

type relatedRequest struct {
	SelectedText string `json:"selected_text" validate:"required,min=5"`
	CurrentDocID string `json:"current_doc_id"`
	TopK         int    `json:"top_k" validate:"omitempty,min=1,max=20"`
}

type navigateRequest struct {
	DocID     string `json:"doc_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

func listDocumentsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Manager.ListDocuments(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to list documents", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"documents": docs,
			"total":     len(docs),
		})
	}
}

func getDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Manager.GetDocument(r.Context(), chi.URLParam(r, "docID"))
		if err != nil {
			failLookup(deps, w, "document not found", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, doc)
	}
}

func getSectionHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sec, err := deps.Manager.GetSection(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "sectionID"))
		if err != nil {
			failLookup(deps, w, "section not found", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sec)
	}
}

func deleteDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "docID")
		if err := deps.Manager.Delete(r.Context(), docID); err != nil {
			failLookup(deps, w, "document not found", err)
			return
		}
		deps.Log.Info("document deleted", "doc_id", docID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Manager.Stats(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to compute stats", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}

func relatedHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relatedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid JSON", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		resp, err := deps.Manager.SearchRelated(r.Context(), indexer.SearchRequest{
			SelectedText: req.SelectedText,
			CurrentDocID: req.CurrentDocID,
			TopK:         req.TopK,
		})
		switch {
		case errors.Is(err, retrieval.ErrQueryTooShort):
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
			return
		case err != nil:
			httputil.Fail(deps.Log, w, "failed to search related sections", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func navigateHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req navigateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid JSON", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		nav, err := deps.Manager.Navigate(r.Context(), req.DocID, req.SectionID)
		if err != nil {
			failLookup(deps, w, "section not found", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, nav)
	}
}

// failLookup maps store.ErrNotFound to 404 and anything else to 500.
func failLookup(deps app.Deps, w http.ResponseWriter, notFound string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		httputil.Fail(deps.Log, w, notFound, err, http.StatusNotFound)
		return
	}
	httputil.Fail(deps.Log, w, "internal error", err, http.StatusInternalServerError)
}
