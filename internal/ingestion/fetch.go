package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/54b3r/corpus-go/internal/rag"
)

// maxFetchBytes caps the body size read from one HTTP source.
const maxFetchBytes = 32 << 20

// Fetcher returns the raw text content of a source. Failures are reported
// as *rag.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, src rag.Source) (string, error)
}

// FetcherConfig holds the settings for the default fetcher.
type FetcherConfig struct {
	// HTTPTimeout is the timeout for each HTTP fetch request.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// FileExtensions lists the extensions read from a directory source.
	// Defaults to .md, .markdown, .txt and .rst.
	FileExtensions []string
}

// KindFetcher dispatches on rag.Source.FetchKind: http reads
// base_config.url, file reads base_config.path (a file or a directory of
// text files), and inline returns base_config.text.
type KindFetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
}

// NewFetcher constructs a KindFetcher with defaults applied.
func NewFetcher(cfg FetcherConfig) *KindFetcher {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "corpus-go/1.0 (document ingestion)"
	}
	if len(cfg.FileExtensions) == 0 {
		cfg.FileExtensions = []string{".md", ".markdown", ".txt", ".rst"}
	}
	return &KindFetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Fetch returns the content of src.
func (f *KindFetcher) Fetch(ctx context.Context, src rag.Source) (string, error) {
	var (
		content string
		err     error
	)
	switch src.FetchKind {
	case "http":
		content, err = f.fetchHTTP(ctx, src.BaseConfig["url"])
	case "file":
		content, err = f.fetchFile(ctx, src.BaseConfig["path"])
	case "inline":
		content = src.BaseConfig["text"]
		if content == "" {
			err = errors.New("base_config.text is empty")
		}
	default:
		err = fmt.Errorf("unsupported fetch kind %q", src.FetchKind)
	}
	if err != nil {
		var fe *rag.FetchError
		if errors.As(err, &fe) {
			fe.SourceID = src.ID
			return "", fe
		}
		return "", &rag.FetchError{SourceID: src.ID, Kind: src.FetchKind, Err: err}
	}
	return content, nil
}

// fetchHTTP retrieves the body of url. Network errors, 429 and 5xx are
// transient.
func (f *KindFetcher) fetchHTTP(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("base_config.url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &rag.FetchError{Kind: "http", Transient: ctx.Err() == nil, Err: fmt.Errorf("http get: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &rag.FetchError{Kind: "http", Transient: transient, Err: fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", &rag.FetchError{Kind: "http", Transient: true, Err: fmt.Errorf("reading body: %w", err)}
	}
	return string(body), nil
}

// fetchFile reads path. A directory is walked recursively and every file
// with an accepted extension is concatenated in lexical path order.
func (f *KindFetcher) fetchFile(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", errors.New("base_config.path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(b), nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		if f.acceptExt(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no files with extensions %v under %s", f.cfg.FileExtensions, path)
	}
	sort.Strings(files)

	var sb strings.Builder
	for i, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", p, err)
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.Write(b)
	}
	return sb.String(), nil
}

func (f *KindFetcher) acceptExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range f.cfg.FileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
