package assets

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/Importexter/internal/utils"
)

// LocalStore keeps assets under a directory and serves them from a public
// base URL. Asset ids are slash-separated paths relative to the root.
type LocalStore struct {
	root      string
	publicURL string
	client    *http.Client
	logger    utils.Logger
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root, publicURL string, client *http.Client) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &LocalStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		client:    client,
		logger:    utils.NewComponentLogger("assets"),
	}, nil
}

// Root returns the directory assets are written to.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Upload(ctx context.Context, req UploadRequest) (*Asset, error) {
	folder, err := cleanFolder(req.Folder)
	if err != nil {
		return nil, err
	}

	data, contentType := req.Data, ""
	name := req.Filename
	if req.RemoteURL != "" {
		data, contentType, err = s.download(ctx, req.RemoteURL, req.MaxBytes)
		if err != nil {
			return nil, err
		}
		if name == "" {
			if u, err := url.Parse(req.RemoteURL); err == nil {
				name = path.Base(u.Path)
			}
		}
	} else if req.MaxBytes > 0 && int64(len(data)) > req.MaxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	id := path.Join(folder, uuid.NewString()+extensionFor(name, contentType))
	full := s.fullPath(id)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write asset: %w", err)
	}

	s.logger.Debugf("stored asset %s (%d bytes)", id, len(data))
	return &Asset{
		ID:          id,
		Folder:      folder,
		URL:         s.urlFor(id),
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now(),
	}, nil
}

func (s *LocalStore) download(ctx context.Context, remoteURL string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download %s: HTTP %d", remoteURL, resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, "", ErrTooLarge
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", remoteURL, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", ErrTooLarge
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return data, ct, nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	full, err := s.safePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *LocalStore) Move(ctx context.Context, ids []string, folder string) ([]MoveResult, error) {
	folder, err := cleanFolder(folder)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.fullPath(folder), 0755); err != nil {
		return nil, err
	}

	results := make([]MoveResult, 0, len(ids))
	for _, id := range ids {
		res := MoveResult{ID: id}
		from, err := s.safePath(id)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		newID := path.Join(folder, path.Base(id))
		if err := os.Rename(from, s.fullPath(newID)); err != nil {
			if os.IsNotExist(err) {
				err = ErrNotFound
			}
			res.Error = err.Error()
		} else {
			res.NewID = newID
			res.URL = s.urlFor(newID)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *LocalStore) ListByFolder(ctx context.Context, folder, cursor string, limit int) (*Page, error) {
	folder, err := cleanFolder(folder)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	entries, err := os.ReadDir(s.fullPath(folder))
	if err != nil {
		if os.IsNotExist(err) {
			return &Page{}, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	page := &Page{}
	for _, name := range names {
		if cursor != "" && name <= cursor {
			continue
		}
		if len(page.Assets) == limit {
			page.NextCursor = path.Base(page.Assets[len(page.Assets)-1].ID)
			break
		}
		id := path.Join(folder, name)
		info, err := os.Stat(s.fullPath(id))
		if err != nil {
			continue
		}
		page.Assets = append(page.Assets, Asset{
			ID:        id,
			Folder:    folder,
			URL:       s.urlFor(id),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return page, nil
}

func (s *LocalStore) fullPath(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id))
}

func (s *LocalStore) safePath(id string) (string, error) {
	clean := path.Clean("/" + id)
	if clean == "/" || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid asset id %q", id)
	}
	return s.fullPath(strings.TrimPrefix(clean, "/")), nil
}

func (s *LocalStore) urlFor(id string) string {
	return s.publicURL + "/" + id
}

func cleanFolder(folder string) (string, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if strings.Contains(folder, "..") {
		return "", fmt.Errorf("invalid folder %q", folder)
	}
	if folder == "" {
		folder = "uploads"
	}
	return path.Clean(folder), nil
}

func extensionFor(name, contentType string) string {
	if ext := strings.ToLower(path.Ext(name)); ext != "" && len(ext) <= 5 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
