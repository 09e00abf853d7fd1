package documents

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"onlinejson-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type DocumentCreateResponse struct {
	ID string `json:"id"`
}

// HandleList returns the ids of every stored document.
func HandleList(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.ListIDs(r.Context())
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list documents")
			http.Error(w, "Failed to list documents", http.StatusInternalServerError)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		render.JSON(w, r, ids)
	}
}

func HandleGet(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if core.IsBlank(id) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}

		document, err := store.Load(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "Failed to load document")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(document.Data.Bytes())
	}
}

// HandleCreate stores the request body under a freshly generated id.
func HandleCreate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := new(bytes.Buffer)
		if _, err := io.Copy(data, r.Body); err != nil {
			logrus.WithField("error", err).Error("Failed to read request body")
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}

		id := ulid.Make().String() + ".json"
		if err := store.Save(r.Context(), id, &core.Document{Data: *data}); err != nil {
			logrus.WithField("error", err).Error("Failed to save document")
			http.Error(w, "Failed to save document", http.StatusInternalServerError)
			return
		}

		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

// HandleUpload replaces the stored document with the request body.
// Open rooms keep their content until a collaborator resets them.
func HandleUpload(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		data := new(bytes.Buffer)
		if _, err := io.Copy(data, r.Body); err != nil {
			logrus.WithField("error", err).Error("Failed to read request body")
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}

		if err := store.Save(r.Context(), id, &core.Document{Data: *data}); err != nil {
			writeStoreError(w, err, "Failed to save document")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logrus.WithField("error", err).Error(message)
		http.Error(w, message, http.StatusInternalServerError)
	}
}
