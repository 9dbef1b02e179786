package scraper

import (
	"context"
	"testing"

	"github.com/valpere/Importexter/internal/assets"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/utils"
)

type fakeAssetStore struct {
	err      error
	uploads  []assets.UploadRequest
	hostedAt string
}

func (f *fakeAssetStore) Upload(ctx context.Context, req assets.UploadRequest) (*assets.Asset, error) {
	f.uploads = append(f.uploads, req)
	if f.err != nil {
		return nil, f.err
	}
	return &assets.Asset{ID: req.Folder + "/x.jpg", URL: f.hostedAt}, nil
}

func (f *fakeAssetStore) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeAssetStore) Move(ctx context.Context, ids []string, folder string) ([]assets.MoveResult, error) {
	return nil, nil
}

func (f *fakeAssetStore) ListByFolder(ctx context.Context, folder, cursor string, limit int) (*assets.Page, error) {
	return &assets.Page{}, nil
}

func TestImageResolver_Resolve(t *testing.T) {
	const page = "https://example.com/posts/1"

	tests := []struct {
		name   string
		c      ImageCandidate
		cfg    config.ImageFieldConfig
		want   string
		wantOK bool
	}{
		{
			name:   "plain src resolved against page",
			c:      ImageCandidate{Src: "../img/a.jpg"},
			want:   "https://example.com/img/a.jpg",
			wantOK: true,
		},
		{
			name:   "data uri falls back to lazy attribute",
			c:      ImageCandidate{Src: "data:image/gif;base64,AAAA", Attrs: map[string]string{"data-original": "/b.jpg"}},
			want:   "https://example.com/b.jpg",
			wantOK: true,
		},
		{
			name:   "placeholder falls back in configured order",
			c:      ImageCandidate{Src: "/static/placeholder.png", Attrs: map[string]string{"data-src": "/first.jpg", "data-lazy-src": "/second.jpg"}},
			cfg:    config.ImageFieldConfig{LazyAttributes: []string{"data-lazy-src", "data-src"}},
			want:   "https://example.com/second.jpg",
			wantOK: true,
		},
		{
			name:   "srcset takes first url",
			c:      ImageCandidate{Attrs: map[string]string{"data-srcset": "/s-400.jpg 400w, /s-800.jpg 800w"}},
			want:   "https://example.com/s-400.jpg",
			wantOK: true,
		},
		{
			name: "no usable source",
			c:    ImageCandidate{Src: "/img/blank.gif"},
		},
		{
			name: "loader gif with query is a placeholder",
			c:    ImageCandidate{Src: "/theme/loading.gif?v=3"},
		},
		{
			name:   "loading in a real file name is kept",
			c:      ImageCandidate{Src: "/uploads/loading-dock.jpg", Width: 800, Height: 600},
			want:   "https://example.com/uploads/loading-dock.jpg",
			wantOK: true,
		},
		{
			name:   "lazy in a real file name is kept",
			c:      ImageCandidate{Src: "/img/lazy-sunday-brunch.jpg"},
			want:   "https://example.com/img/lazy-sunday-brunch.jpg",
			wantOK: true,
		},
		{
			name:   "lazy directory is not a placeholder",
			c:      ImageCandidate{Src: "/lazy/photos/a.jpg"},
			want:   "https://example.com/lazy/photos/a.jpg",
			wantOK: true,
		},
		{
			name: "below minimum size",
			c:    ImageCandidate{Src: "/small.jpg", Width: 40, Height: 400},
			cfg:  config.ImageFieldConfig{MinImageSize: 100},
		},
		{
			name:   "unknown dimensions pass minimum size",
			c:      ImageCandidate{Src: "/unknown.jpg"},
			cfg:    config.ImageFieldConfig{MinImageSize: 100},
			want:   "https://example.com/unknown.jpg",
			wantOK: true,
		},
		{
			name: "1x1 tracking image dropped",
			c:    ImageCandidate{Src: "/t.gif", Width: 1, Height: 1},
			cfg:  config.ImageFieldConfig{SkipTrackingImages: true},
		},
		{
			name:   "same image not 1x1 retained",
			c:      ImageCandidate{Src: "/t.gif", Width: 600, Height: 400},
			cfg:    config.ImageFieldConfig{SkipTrackingImages: true},
			want:   "https://example.com/t.gif",
			wantOK: true,
		},
		{
			name: "tracker url dropped",
			c:    ImageCandidate{Src: "https://ads.example.net/beacon?id=1"},
			cfg:  config.ImageFieldConfig{SkipTrackingImages: true},
		},
		{
			name:   "tracker url kept when filter disabled",
			c:      ImageCandidate{Src: "https://ads.example.net/beacon?id=1"},
			want:   "https://ads.example.net/beacon?id=1",
			wantOK: true,
		},
	}

	resolver := NewImageResolver(nil, nil, utils.NewNopLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolver.Resolve(context.Background(), page, tt.c, tt.cfg)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Resolve() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestImageResolver_Upload(t *testing.T) {
	store := &fakeAssetStore{hostedAt: "https://cdn.example.com/posts/x.jpg"}
	resolver := NewImageResolver(store, nil, utils.NewNopLogger())
	cfg := config.ImageFieldConfig{Upload: true, Folder: "posts", MaxSizeMB: 2}

	got, ok := resolver.Resolve(context.Background(), "https://example.com/", ImageCandidate{Src: "/a.jpg"}, cfg)
	if !ok || got != store.hostedAt {
		t.Fatalf("expected hosted URL, got (%q, %v)", got, ok)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(store.uploads))
	}
	req := store.uploads[0]
	if req.RemoteURL != "https://example.com/a.jpg" || req.Folder != "posts" || req.MaxBytes != 2*1024*1024 {
		t.Errorf("unexpected upload request %+v", req)
	}
}

func TestImageResolver_UploadFailureKeepsOriginal(t *testing.T) {
	for _, uploadErr := range []error{assets.ErrTooLarge, context.DeadlineExceeded} {
		store := &fakeAssetStore{err: uploadErr}
		resolver := NewImageResolver(store, nil, utils.NewNopLogger())
		cfg := config.ImageFieldConfig{Upload: true, MaxSizeMB: 1}

		got, ok := resolver.Resolve(context.Background(), "https://example.com/", ImageCandidate{Src: "/big.jpg"}, cfg)
		if !ok || got != "https://example.com/big.jpg" {
			t.Errorf("%v: expected original URL, got (%q, %v)", uploadErr, got, ok)
		}
	}
}
