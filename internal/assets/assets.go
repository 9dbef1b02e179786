// Package assets defines the image hosting collaborator and a local
// filesystem implementation of it.
package assets

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrTooLarge is returned when an original exceeds the upload size limit.
var ErrTooLarge = stderrors.New("asset exceeds maximum size")

// ErrNotFound is returned for unknown asset ids.
var ErrNotFound = stderrors.New("asset not found")

// Store hosts images on behalf of the catalog.
type Store interface {
	// Upload stores either RemoteURL (downloaded by the store) or Data.
	Upload(ctx context.Context, req UploadRequest) (*Asset, error)
	Delete(ctx context.Context, id string) error
	Move(ctx context.Context, ids []string, folder string) ([]MoveResult, error)
	ListByFolder(ctx context.Context, folder, cursor string, limit int) (*Page, error)
}

// UploadRequest describes one upload. Exactly one of RemoteURL and Data is set.
type UploadRequest struct {
	RemoteURL string
	Data      []byte
	Filename  string
	Folder    string

	// MaxBytes rejects larger originals; zero means unlimited
	MaxBytes int64
}

// Asset is a hosted file.
type Asset struct {
	ID          string    `json:"id"`
	Folder      string    `json:"folder"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// MoveResult reports the outcome for one id of a Move call.
type MoveResult struct {
	ID    string `json:"id"`
	NewID string `json:"new_id,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// Page is one page of a folder listing.
type Page struct {
	Assets     []Asset `json:"assets"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
