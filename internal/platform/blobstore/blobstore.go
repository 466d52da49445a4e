// Package blobstore stores uploaded files (prescriptions, profile images).
// It defines the BlobStore interface, an in-memory implementation suitable
// for testing and development, and Echo HTTP handlers for multipart upload
// and download.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrInvalidExtension = errors.New("file extension is not allowed")
	ErrInvalidCategory  = errors.New("unknown upload category")
	ErrMissingFileName  = errors.New("file name is required")
)

// Category controls what may be uploaded and how large it may be.
type Category string

const (
	CategoryPrescription Category = "prescription"
	CategoryProfileImage Category = "profile-image"
)

const (
	MaxPrescriptionSize = 10 * 1024 * 1024
	MaxProfileImageSize = 2 * 1024 * 1024
)

var allowedExtensions = map[Category]map[string]bool{
	CategoryPrescription: {
		".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	},
	CategoryProfileImage: {
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	},
}

// MaxSize returns the byte ceiling for a category, or an error for unknown
// categories.
func MaxSize(category Category) (int64, error) {
	switch category {
	case CategoryPrescription:
		return MaxPrescriptionSize, nil
	case CategoryProfileImage:
		return MaxProfileImageSize, nil
	default:
		return 0, ErrInvalidCategory
	}
}

// ValidateFileName checks the extension against the category's allow-list.
func ValidateFileName(category Category, fileName string) error {
	if fileName == "" {
		return ErrMissingFileName
	}
	exts, ok := allowedExtensions[category]
	if !ok {
		return ErrInvalidCategory
	}
	if !exts[strings.ToLower(filepath.Ext(fileName))] {
		return ErrInvalidExtension
	}
	return nil
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	OwnerID   string    `json:"owner_id"`
	Category  Category  `json:"category"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string, category Category) ([]*BlobMetadata, error)
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

// Upload validates the name and size for the category, computes a SHA-256
// hash, and stores the blob in memory.
func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := ValidateFileName(meta.Category, meta.FileName); err != nil {
		return nil, err
	}
	maxSize, err := MaxSize(meta.Category)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}

	h := sha256.Sum256(data)
	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *InMemoryBlobStore) ListByOwner(_ context.Context, ownerID string, category Category) ([]*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*BlobMetadata
	for _, b := range s.blobs {
		if b.metadata.OwnerID != ownerID {
			continue
		}
		if category != "" && b.metadata.Category != category {
			continue
		}
		m := b.metadata
		out = append(out, &m)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// HTTP handlers
// ---------------------------------------------------------------------------

type Handler struct {
	store BlobStore
}

func NewHandler(store BlobStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/files", h.Upload)
	api.GET("/files/:id", h.Download)
	api.GET("/files", h.ListMine)
	api.DELETE("/files/:id", h.Delete)
}

// Upload accepts a multipart form with "file" and "category" fields. The
// owner is the authenticated caller.
func (h *Handler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	category := Category(c.FormValue("category"))
	if category == "" {
		category = CategoryPrescription
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer src.Close()

	meta := BlobMetadata{
		FileName: fileHeader.Filename,
		OwnerID:  ownerID(c),
		Category: category,
	}
	stored, err := h.store.Upload(c.Request().Context(), meta, src)
	if err != nil {
		return echo.NewHTTPError(uploadStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, stored)
}

func (h *Handler) Download(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}

func (h *Handler) ListMine(c echo.Context) error {
	blobs, err := h.store.ListByOwner(c.Request().Context(), ownerID(c), Category(c.QueryParam("category")))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, blobs)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidExtension), errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrMissingFileName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func ownerID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context()).String()
}
