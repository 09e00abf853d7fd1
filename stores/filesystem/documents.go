package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"onlinejson-server/core"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const documentExt = ".json"

type documentStore struct {
	basePath string
}

// NewDocumentStore serves the *.json files of basePath as documents. The
// directory is created when missing.
func NewDocumentStore(basePath string) core.DocumentStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &documentStore{basePath: basePath}
}

func (s *documentStore) Load(ctx context.Context, id string) (*core.Document, error) {
	filePath, err := s.path(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *documentStore) ListIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		logrus.WithError(err).WithField("path", s.basePath).Error("Failed to read document directory")
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), documentExt) {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *documentStore) Save(ctx context.Context, id string, document *core.Document) error {
	if !strings.HasSuffix(id, documentExt) {
		return fmt.Errorf("document id %q must end in %s: %w", id, documentExt, core.ErrInvalidArgument)
	}
	filePath, err := s.path(id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	if err := os.WriteFile(filePath, document.Data.Bytes(), 0644); err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}

	log.Info("Document saved successfully")
	return nil
}

// path resolves id inside basePath, rejecting anything that would escape it.
func (s *documentStore) path(id string) (string, error) {
	if core.IsBlank(id) || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid document id %q: %w", id, core.ErrInvalidArgument)
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(s.basePath, id))
	if err != nil {
		return "", err
	}
	if filepath.Dir(absFile) != absBase {
		return "", fmt.Errorf("invalid document id %q: %w", id, core.ErrInvalidArgument)
	}
	return absFile, nil
}
