package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
)

const (
	defaultFileName = "resume.pdf"
	downloadTimeout = 30 * time.Second
)

// ErrFileTooLarge is returned when a document exceeds the download limit.
var ErrFileTooLarge = errors.New("file exceeds download limit")

var maxDownloadSize int64 = 20 << 20

// FileFetcher turns a document URL into a local file suitable for an upload input.
type FileFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPFetcher downloads documents once per URL into a private temp directory.
type HTTPFetcher struct {
	client *http.Client

	mu    sync.Mutex
	dir   string
	paths map[string]string
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &HTTPFetcher{client: client, paths: make(map[string]string)}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.paths[rawURL]; ok {
		return p, nil
	}

	if h.dir == "" {
		dir, err := os.MkdirTemp("", "autoapply-files-")
		if err != nil {
			return "", fmt.Errorf("create download dir: %w", err)
		}
		h.dir = dir
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: bad status: %s", rawURL, resp.Status)
	}
	if resp.ContentLength > maxDownloadSize {
		return "", fmt.Errorf("download %s: %w (%d bytes)", rawURL, ErrFileTooLarge, resp.ContentLength)
	}

	target := filepath.Join(h.dir, fmt.Sprintf("%d-%s", len(h.paths), fileName(rawURL, resp.Header.Get("Content-Disposition"))))
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("save %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	// bodies without a length are only caught here
	if written > maxDownloadSize {
		os.Remove(target)
		return "", fmt.Errorf("download %s: %w", rawURL, ErrFileTooLarge)
	}

	h.paths[rawURL] = target
	return target, nil
}

// Cleanup removes every downloaded file.
func (h *HTTPFetcher) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.paths = make(map[string]string)
	if h.dir == "" {
		return nil
	}
	dir := h.dir
	h.dir = ""
	return os.RemoveAll(dir)
}

func fileName(rawURL, disposition string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := filepath.Base(params["filename"]); name != "" && name != "." && name != "/" {
			return name
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" && strings.Contains(name, ".") {
			return name
		}
	}
	return defaultFileName
}

// uploadFile attaches the resume or cover letter to a file input.
func (f *Filler) uploadFile(ctx context.Context, field page.Field) error {
	if strings.TrimSpace(field.Value) != "" || f.files == nil {
		return nil
	}

	label := strings.ToLower(field.Label() + " " + field.Name)
	source := f.profile.ResumeURL
	if strings.Contains(label, "cover") {
		source = f.profile.CoverLetterURL
	}
	if source == "" {
		return nil
	}

	local, err := f.files.Fetch(ctx, source)
	if err != nil {
		return err
	}
	if err := f.page.UploadFile(ctx, field.ID, local); err != nil {
		return err
	}

	f.logger.Debug("uploaded file", zap.String("field", field.Label()), zap.String("file", filepath.Base(local)))
	f.progress()
	return nil
}
