package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

func testFetcher(t *testing.T, caps config.AttachmentsConfig) *Fetcher {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f, err := New(log, caps)
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	return f
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		err  error
	}{
		{"notes.txt", KindText, nil},
		{"README.MD", KindText, nil},
		{"report.pdf", KindPDF, nil},
		{"photo.JPG", KindImage, nil},
		{"payload.exe", "", ErrBlockedType},
		{"script.sh", "", ErrBlockedType},
		{"lib.dll", "", ErrBlockedType},
		{"song.mp3", "", ErrUnsupportedType},
		{"noextension", "", ErrUnsupportedType},
	}
	for _, tc := range cases {
		kind, err := Classify(tc.name)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if kind != tc.kind {
			t.Fatalf("%s: kind = %s, want %s", tc.name, kind, tc.kind)
		}
	}
}

func TestFetchRejectsDeclaredOversize(t *testing.T) {
	f := testFetcher(t, config.AttachmentsConfig{MaxTextBytes: 100, MaxPDFBytes: 100, MaxImageBytes: 100})
	_, err := f.Fetch(context.Background(), "big.txt", "http://unused.invalid/", 101)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetchRejectsActualOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 200)))
	}))
	defer srv.Close()

	f := testFetcher(t, config.AttachmentsConfig{MaxTextBytes: 100, MaxPDFBytes: 100, MaxImageBytes: 100})
	_, err := f.Fetch(context.Background(), "lies.txt", srv.URL, 0)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge on actual size, got %v", err)
	}
}

func TestFetchDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("file body"))
	}))
	defer srv.Close()

	f := testFetcher(t, config.AttachmentsConfig{MaxTextBytes: 1 << 20, MaxPDFBytes: 1 << 20, MaxImageBytes: 1 << 20})
	got, err := f.Fetch(context.Background(), "notes.txt", srv.URL, 9)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Kind != KindText {
		t.Fatalf("kind = %s, want text", got.Kind)
	}
	if string(got.Data) != "file body" {
		t.Fatalf("body = %q", got.Data)
	}
	if got.MediaType != "text/plain" {
		t.Fatalf("media type = %q", got.MediaType)
	}
}

func TestFetchNeverContactsServerForBlockedType(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	f := testFetcher(t, config.AttachmentsConfig{MaxTextBytes: 100, MaxPDFBytes: 100, MaxImageBytes: 100})
	_, err := f.Fetch(context.Background(), "virus.exe", srv.URL, 10)
	if !errors.Is(err, ErrBlockedType) {
		t.Fatalf("expected ErrBlockedType, got %v", err)
	}
	if hit {
		t.Fatalf("blocked attachment must not be downloaded")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(t, config.AttachmentsConfig{MaxTextBytes: 100, MaxPDFBytes: 100, MaxImageBytes: 100})
	if _, err := f.Fetch(context.Background(), "gone.txt", srv.URL, 0); err == nil {
		t.Fatalf("expected error on http 404")
	}
}
