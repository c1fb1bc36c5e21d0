package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/platform/ctxutil"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// Kind classifies what the processing pipeline can do with a file.
type Kind string

const (
	KindText  Kind = "text"
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

var (
	ErrBlockedType     = errors.New("attachment type blocked")
	ErrUnsupportedType = errors.New("attachment type unsupported")
	ErrTooLarge        = errors.New("attachment exceeds size cap")
)

// Executables and binaries are never downloaded, regardless of size.
var blockedExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".sh": {}, ".ps1": {},
	".cmd": {}, ".dll": {}, ".so": {}, ".bin": {},
}

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".log": {}, ".csv": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".xml": {},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
}

// Classify maps a filename to a processing kind, or an error when the
// file must not be processed. Unknown extensions are unsupported, not
// blocked: they fail the attachment but are not treated as hostile.
func Classify(filename string) (Kind, error) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if _, ok := blockedExtensions[ext]; ok {
		return "", fmt.Errorf("%w: %s", ErrBlockedType, ext)
	}
	if _, ok := textExtensions[ext]; ok {
		return KindText, nil
	}
	if ext == ".pdf" {
		return KindPDF, nil
	}
	if _, ok := imageExtensions[ext]; ok {
		return KindImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
}

type Result struct {
	Kind      Kind
	Data      []byte
	MediaType string
}

type Fetcher struct {
	log    *logger.Logger
	client *http.Client
	caps   config.AttachmentsConfig
}

func New(log *logger.Logger, caps config.AttachmentsConfig) (*Fetcher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Fetcher{
		log:    log.With("service", "AttachmentFetcher"),
		client: &http.Client{Timeout: 60 * time.Second},
		caps:   caps,
	}, nil
}

// Fetch classifies the attachment by filename, enforces the per-kind
// size cap both before and after download, and returns the bytes.
// declaredSize is the size reported by the platform; 0 means unknown.
func (f *Fetcher) Fetch(ctx context.Context, filename, url string, declaredSize int64) (Result, error) {
	kind, err := Classify(filename)
	if err != nil {
		return Result{}, err
	}

	limit := f.capFor(kind)
	if declaredSize > limit {
		return Result{}, fmt.Errorf("%w: declared %d > %d", ErrTooLarge, declaredSize, limit)
	}

	data, mediaType, err := f.download(ctx, url, limit)
	if err != nil {
		return Result{}, err
	}

	f.log.Debug("attachment fetched",
		"filename", filename,
		"kind", string(kind),
		"bytes", len(data),
	)
	return Result{Kind: kind, Data: data, MediaType: mediaType}, nil
}

func (f *Fetcher) capFor(kind Kind) int64 {
	switch kind {
	case KindPDF:
		return f.caps.MaxPDFBytes
	case KindImage:
		return f.caps.MaxImageBytes
	default:
		return f.caps.MaxTextBytes
	}
}

func (f *Fetcher) download(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, strings.TrimSpace(url), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "GuildSenseBot/1.0 (attachment indexer)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("attachment download http %d", resp.StatusCode)
	}

	mediaType := ""
	if ctype := strings.TrimSpace(resp.Header.Get("Content-Type")); ctype != "" {
		if mt, _, err := mime.ParseMediaType(ctype); err == nil {
			mediaType = mt
		}
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: body %d > %d", ErrTooLarge, len(data), maxBytes)
	}
	if mediaType == "" && len(data) > 0 {
		n := len(data)
		if n > 512 {
			n = 512
		}
		mediaType = http.DetectContentType(data[:n])
	}
	return data, mediaType, nil
}
