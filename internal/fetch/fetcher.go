package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/calmora/tessera/pkg/tile"
)

// DownloadError reports a tile request that failed on the wire.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("downloading %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Config carries the run-wide fetch parameters.
type Config struct {
	Jobs      int
	Force     bool
	UserAgent string
}

// Fetcher downloads planned tiles into a page directory, skipping tiles
// already on disk unless forced.
type Fetcher struct {
	client    *http.Client
	userAgent string
	jobs      int
	force     bool
}

// New creates a fetcher with a 30 second timeout per tile request.
func New(cfg Config) *Fetcher {
	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = 1
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: cfg.UserAgent,
		jobs:      jobs,
		force:     cfg.Force,
	}
}

// FetchAll retrieves every entry of the plan into dir. Results come back
// in plan order regardless of which worker finished first; composition
// depends on that order downstream. The first failure cancels outstanding
// work and is returned.
func (f *Fetcher) FetchAll(ctx context.Context, entries []tile.PlanEntry, dir string) ([]tile.Fetched, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]tile.Fetched, len(entries))
	indexes := make(chan int)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     atomic.Int32
	)

	jobs := f.jobs
	if jobs > len(entries) {
		jobs = len(entries)
	}

	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					continue
				}
				ft, cached, err := f.fetchOne(ctx, entries[i], dir)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					continue
				}
				results[i] = ft

				n := done.Add(1)
				if cached {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s (cached)\n", n, len(entries), entries[i].Filename)
				} else {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", n, len(entries), entries[i].URL)
				}
			}
		}()
	}

	for i := range entries {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, e tile.PlanEntry, dir string) (tile.Fetched, bool, error) {
	path := filepath.Join(dir, e.Filename)

	if !f.force {
		if _, err := os.Stat(path); err == nil {
			w, h, err := measureFile(path)
			if err != nil {
				return tile.Fetched{}, false, err
			}
			return tile.Fetched{Entry: e, Path: path, Width: w, Height: h}, true, nil
		}
	}

	data, err := f.download(ctx, e.URL)
	if err != nil {
		return tile.Fetched{}, false, err
	}

	// Measure before landing the file, so a bad response never ends up
	// at the final path.
	w, h, err := measure(bytes.NewReader(data), path)
	if err != nil {
		return tile.Fetched{}, false, err
	}

	if err := writeAtomic(path, data); err != nil {
		return tile.Fetched{}, false, err
	}
	return tile.Fetched{Entry: e, Path: path, Width: w, Height: h}, false, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	return data, nil
}

// writeAtomic lands the tile under a unique temporary name first, so
// concurrent workers or interrupted runs never leave a partial file at
// the final path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func measure(r io.Reader, path string) (int, int, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, &tile.DecodeError{Path: path, Err: err}
	}
	return cfg.Width, cfg.Height, nil
}

func measureFile(path string) (int, int, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer fd.Close()
	return measure(fd, path)
}
