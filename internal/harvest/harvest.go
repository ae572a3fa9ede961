package harvest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/calmora/tessera/internal/fetch"
	"github.com/calmora/tessera/internal/iiif"
	"github.com/calmora/tessera/internal/stitch"
	"github.com/calmora/tessera/pkg/tile"
)

// Options carries the run-wide parameters threaded through planning,
// fetching and composition.
type Options struct {
	ManifestURL string
	OutputDir   string
	Pages       string // selection expression like "1-3,5,7-9"; empty selects all
	Scale       int
	Force       bool
	Jobs        int
	UserAgent   string
}

// Harvester drives one document run: manifest, then per page descriptor,
// plan, tiles, combined image.
type Harvester struct {
	opts   Options
	client *iiif.Client
	fetch  *fetch.Fetcher
	stitch *stitch.Compositor
}

// New creates a harvester for one document run.
func New(opts Options) *Harvester {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return &Harvester{
		opts:   opts,
		client: iiif.NewClient(opts.UserAgent),
		fetch: fetch.New(fetch.Config{
			Jobs:      opts.Jobs,
			Force:     opts.Force,
			UserAgent: opts.UserAgent,
		}),
		stitch: stitch.New(opts.Force),
	}
}

// Run processes the selected pages in order and stops at the first error.
// Outputs of pages completed before a failure stay on disk, so the run can
// be repeated and picks up where it stopped.
func (h *Harvester) Run(ctx context.Context) error {
	docDir := filepath.Join(h.opts.OutputDir, DocumentID(h.opts.ManifestURL))
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return err
	}

	manifestPath := filepath.Join(docDir, "manifest.json")
	m, err := h.client.CachedManifest(ctx, h.opts.ManifestURL, manifestPath, h.opts.Force)
	if err != nil {
		return err
	}

	pages := m.Pages()
	if len(pages) == 0 {
		return fmt.Errorf("manifest %s lists no pages with an image service", h.opts.ManifestURL)
	}

	selected, err := ParsePageRange(h.opts.Pages, len(pages))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "==Document: %s (%d pages, %d selected)\n", m.Label, len(pages), len(selected))

	for i, n := range selected {
		p := pages[n-1]
		fmt.Fprintf(os.Stderr, "==Page %d/%d: %s\n", i+1, len(selected), pageName(p))
		if err := h.page(ctx, docDir, p); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "==Done: %d pages in %s\n", len(selected), docDir)
	return nil
}

func (h *Harvester) page(ctx context.Context, docDir string, p iiif.Page) error {
	info, err := h.client.Info(ctx, p.ServiceURL)
	if err != nil {
		return err
	}

	plan, err := tile.NewPlan(info.Descriptor(), h.opts.Scale)
	if err != nil {
		return fmt.Errorf("page %d (%s): %w", p.Index, pageName(p), err)
	}

	// The combined name depends on the effective scale, which is only
	// known after planning.
	combined := filepath.Join(docDir, CombinedName(pageName(p), plan.Scale))
	if !h.opts.Force {
		if _, err := os.Stat(combined); err == nil {
			fmt.Fprintf(os.Stderr, "  %s exists, skipping page\n", filepath.Base(combined))
			return nil
		}
	}

	pageDir := filepath.Join(docDir, Sanitize(pageName(p)))
	if err := os.MkdirAll(pageDir, 0o755); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "  %dx%d px, %d tiles (%dx%d grid) at scale %d\n",
		info.Width, info.Height, len(plan.Entries), plan.Rows, plan.Cols, plan.Scale)

	tiles, err := h.fetch.FetchAll(ctx, plan.Entries, pageDir)
	if err != nil {
		return fmt.Errorf("page %d (%s): %w", p.Index, pageName(p), err)
	}

	if err := h.stitch.Compose(tiles, combined); err != nil {
		return fmt.Errorf("page %d (%s): %w", p.Index, pageName(p), err)
	}
	return nil
}

func pageName(p iiif.Page) string {
	if strings.TrimSpace(p.Label) != "" {
		return p.Label
	}
	return fmt.Sprintf("page-%d", p.Index)
}

// CombinedName names the stitched output for a page. Scale factors other
// than 1 are part of the name so renditions never collide.
func CombinedName(label string, scale int) string {
	name := "combined-" + Sanitize(label)
	if scale != 1 {
		name += fmt.Sprintf("x%d", scale)
	}
	return name + ".jpg"
}

// DocumentID derives the output folder for a manifest URL from its last
// meaningful path segment. The folder is computable before the manifest is
// fetched, which is what lets repeated runs find the cached copy.
func DocumentID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Sanitize(rawURL)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := strings.TrimSuffix(segments[i], ".json")
		if s == "" || s == "manifest" || s == "info" {
			continue
		}
		return Sanitize(s)
	}
	if u.Host != "" {
		return Sanitize(u.Host)
	}
	return "document"
}

// ParsePageRange expands a selection expression like "1-3,5,7-9" against a
// document of max pages. An empty expression selects every page. Returned
// page numbers are 1-based, ascending and unique.
func ParsePageRange(expr string, max int) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		all := make([]int, max)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}

	seen := make(map[int]bool)
	var pages []int
	add := func(n int) error {
		if n < 1 || n > max {
			return fmt.Errorf("page %d out of range 1-%d", n, max)
		}
		if !seen[n] {
			seen[n] = true
			pages = append(pages, n)
		}
		return nil
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element in page selection %q", expr)
		}

		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid page %q in %q", part, expr)
			}
			if err := add(n); err != nil {
				return nil, err
			}
			continue
		}

		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid page range %q in %q", part, expr)
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid page range %q in %q", part, expr)
		}
		if b < a {
			return nil, fmt.Errorf("page range %q is reversed", part)
		}
		for n := a; n <= b; n++ {
			if err := add(n); err != nil {
				return nil, err
			}
		}
	}

	sort.Ints(pages)
	return pages, nil
}

// Sanitize makes a manifest or page label safe as a file name.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " ._-")
	if out == "" {
		return "untitled"
	}
	return out
}
