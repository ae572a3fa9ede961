package tile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewPlan_GridWithRemainders(t *testing.T) {
	d := Descriptor{
		BaseURL:      "https://img.example.org/iiif/ms-2141%2Fp001",
		Width:        1000,
		Height:       800,
		TileWidth:    512,
		ScaleFactors: []int{1, 2, 4},
		Formats:      []string{"jpg", "png"},
	}

	// 3 is not offered, so the plan falls back to the smallest factor.
	plan, err := NewPlan(d, 3)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	if plan.Scale != 1 {
		t.Errorf("expected fallback to scale 1, got %d", plan.Scale)
	}
	if plan.Rows != 2 || plan.Cols != 2 {
		t.Errorf("expected 2x2 grid, got %dx%d", plan.Rows, plan.Cols)
	}

	base := "https://img.example.org/iiif/ms-2141%2Fp001"
	want := []PlanEntry{
		{
			Region:      Region{X: 0, Y: 0, W: 512, H: 512},
			OutputWidth: 512, OutputHeight: 512, Format: "jpg", Row: 0, Col: 0,
			URL:      base + "/0,0,512,512/512,/0/default.jpg",
			Filename: "0,0,512,512_512.jpg",
		},
		{
			Region:      Region{X: 512, Y: 0, W: 488, H: 512},
			OutputWidth: 488, OutputHeight: 512, Format: "jpg", Row: 0, Col: 1,
			URL:      base + "/512,0,488,512/488,/0/default.jpg",
			Filename: "512,0,488,512_488.jpg",
		},
		{
			Region:      Region{X: 0, Y: 512, W: 512, H: 288},
			OutputWidth: 512, OutputHeight: 288, Format: "jpg", Row: 1, Col: 0,
			URL:      base + "/0,512,512,288/512,/0/default.jpg",
			Filename: "0,512,512,288_512.jpg",
		},
		{
			Region:      Region{X: 512, Y: 512, W: 488, H: 288},
			OutputWidth: 488, OutputHeight: 288, Format: "jpg", Row: 1, Col: 1,
			URL:      base + "/512,512,488,288/488,/0/default.jpg",
			Filename: "512,512,488,288_488.jpg",
		},
	}

	if diff := cmp.Diff(want, plan.Entries); diff != "" {
		t.Errorf("plan entries mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPlan_ExactMultiples(t *testing.T) {
	d := Descriptor{
		BaseURL:   "https://img.example.org/iiif/p2",
		Width:     1024,
		Height:    512,
		TileWidth: 256,
	}

	plan, err := NewPlan(d, 1)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	if plan.Rows != 2 || plan.Cols != 4 {
		t.Fatalf("expected 2x4 grid, got %dx%d", plan.Rows, plan.Cols)
	}
	if len(plan.Entries) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(plan.Entries))
	}
	for _, e := range plan.Entries {
		if e.Region.W != 256 || e.Region.H != 256 {
			t.Errorf("entry %d,%d: expected 256x256 region, got %s", e.Row, e.Col, e.Region)
		}
		if e.OutputWidth != 256 || e.OutputHeight != 256 {
			t.Errorf("entry %d,%d: expected 256x256 output, got %dx%d", e.Row, e.Col, e.OutputWidth, e.OutputHeight)
		}
	}
}

func TestNewPlan_RegionsTileImageExactly(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
	}{
		{"remainders both axes", Descriptor{BaseURL: "https://x", Width: 1000, Height: 800, TileWidth: 512}},
		{"exact fit", Descriptor{BaseURL: "https://x", Width: 768, Height: 512, TileWidth: 256}},
		{"tall strip", Descriptor{BaseURL: "https://x", Width: 100, Height: 9000, TileWidth: 512}},
		{"rectangular tiles", Descriptor{BaseURL: "https://x", Width: 1333, Height: 777, TileWidth: 300, TileHeight: 200}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := NewPlan(tc.d, 1)
			if err != nil {
				t.Fatalf("NewPlan failed: %v", err)
			}

			if got := plan.Rows * plan.Cols; got != len(plan.Entries) {
				t.Errorf("rows*cols = %d, but %d entries", got, len(plan.Entries))
			}

			// Row-major order: rows ascend, cols restart at 0 per row.
			area := 0
			row, col := 0, 0
			for i, e := range plan.Entries {
				if e.Row != row || e.Col != col {
					t.Fatalf("entry %d: expected position (%d,%d), got (%d,%d)", i, row, col, e.Row, e.Col)
				}
				if e.OutputWidth <= 0 || e.OutputHeight <= 0 {
					t.Errorf("entry %d: non-positive output size %dx%d", i, e.OutputWidth, e.OutputHeight)
				}
				area += e.Region.W * e.Region.H
				col++
				if col == plan.Cols {
					col = 0
					row++
				}
			}
			if want := tc.d.Width * tc.d.Height; area != want {
				t.Errorf("regions cover %d px, image has %d px", area, want)
			}
		})
	}
}

func TestNewPlan_FullRegionSentinel(t *testing.T) {
	d := Descriptor{
		BaseURL:   "https://img.example.org/iiif/small",
		Width:     400,
		Height:    300,
		TileWidth: 512,
	}

	plan, err := NewPlan(d, 1)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	if len(plan.Entries) != 1 {
		t.Fatalf("expected a single entry, got %d", len(plan.Entries))
	}

	e := plan.Entries[0]
	if !e.Region.Full {
		t.Errorf("expected full region, got %s", e.Region)
	}
	if e.OutputWidth != 400 || e.OutputHeight != 300 {
		t.Errorf("expected 400x300 output, got %dx%d", e.OutputWidth, e.OutputHeight)
	}
	if e.URL != "https://img.example.org/iiif/small/full/400,/0/default.jpg" {
		t.Errorf("unexpected URL %q", e.URL)
	}
	if e.Filename != "full_400.jpg" {
		t.Errorf("unexpected filename %q", e.Filename)
	}
}

func TestNewPlan_FullSentinelAtScale(t *testing.T) {
	// At scale 2 the stride is 1024x1024 and covers the whole 1000x800
	// image, so one downscaled full-region tile is enough.
	d := Descriptor{
		BaseURL:      "https://img.example.org/iiif/p1",
		Width:        1000,
		Height:       800,
		TileWidth:    512,
		ScaleFactors: []int{1, 2, 4},
	}

	plan, err := NewPlan(d, 2)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	if plan.Scale != 2 {
		t.Fatalf("expected scale 2, got %d", plan.Scale)
	}
	if len(plan.Entries) != 1 {
		t.Fatalf("expected a single entry, got %d", len(plan.Entries))
	}

	e := plan.Entries[0]
	if !e.Region.Full {
		t.Errorf("expected full region, got %s", e.Region)
	}
	if e.OutputWidth != 500 || e.OutputHeight != 400 {
		t.Errorf("expected 500x400 output, got %dx%d", e.OutputWidth, e.OutputHeight)
	}
	if e.Filename != "full_500x2.jpg" {
		t.Errorf("unexpected filename %q", e.Filename)
	}
}

func TestNewPlan_ScaledGridWithRemainders(t *testing.T) {
	d := Descriptor{
		BaseURL:   "https://img.example.org/iiif/wide",
		Width:     3000,
		Height:    800,
		TileWidth: 512,
	}

	// No declared factors: the requested value applies directly.
	plan, err := NewPlan(d, 2)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	if plan.Scale != 2 {
		t.Fatalf("expected scale 2, got %d", plan.Scale)
	}
	if plan.Rows != 1 || plan.Cols != 3 {
		t.Fatalf("expected 1x3 grid, got %dx%d", plan.Rows, plan.Cols)
	}

	last := plan.Entries[2]
	if got := last.Region.String(); got != "2048,0,952,800" {
		t.Errorf("unexpected last region %q", got)
	}
	if last.OutputWidth != 476 || last.OutputHeight != 400 {
		t.Errorf("expected 476x400 output, got %dx%d", last.OutputWidth, last.OutputHeight)
	}
	if last.Filename != "2048,0,952,800_476x2.jpg" {
		t.Errorf("unexpected filename %q", last.Filename)
	}
}

func TestEffectiveScale(t *testing.T) {
	cases := []struct {
		name      string
		declared  []int
		requested int
		want      int
	}{
		{"no declared, requested used", nil, 2, 2},
		{"no declared, unset defaults to 1", nil, 0, 1},
		{"no declared, negative defaults to 1", nil, -3, 1},
		{"declared contains requested", []int{1, 2, 4}, 4, 4},
		{"declared without requested falls to min", []int{1, 2, 4}, 3, 1},
		{"unsorted declared", []int{4, 2, 8}, 3, 2},
		{"unset with declared falls to min", []int{2, 4}, 0, 2},
		{"garbage declared defaults to 1", []int{0, -2}, 5, 1},
		{"zero declared never matches unset request", []int{0, 1}, 0, 1},
		{"negative declared never matches negative request", []int{-2, 4}, -2, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := effectiveScale(tc.declared, tc.requested); got != tc.want {
				t.Errorf("effectiveScale(%v, %d) = %d, want %d", tc.declared, tc.requested, got, tc.want)
			}
		})
	}
}

func TestPickFormat(t *testing.T) {
	cases := []struct {
		name    string
		formats []string
		want    string
	}{
		{"jpg preferred", []string{"png", "jpg", "webp"}, "jpg"},
		{"first declared otherwise", []string{"png", "webp"}, "png"},
		{"none declared defaults to jpg", nil, "jpg"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pickFormat(tc.formats); got != tc.want {
				t.Errorf("pickFormat(%v) = %q, want %q", tc.formats, got, tc.want)
			}
		})
	}
}

func TestNewPlan_InvalidDescriptor(t *testing.T) {
	cases := []struct {
		name  string
		d     Descriptor
		field string
	}{
		{"zero width", Descriptor{Width: 0, Height: 800, TileWidth: 512}, "width"},
		{"negative height", Descriptor{Width: 1000, Height: -1, TileWidth: 512}, "height"},
		{"missing tile width", Descriptor{Width: 1000, Height: 800}, "tileWidth"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPlan(tc.d, 1)
			if err == nil {
				t.Fatal("expected an error")
			}
			var descErr *InvalidDescriptorError
			if !errors.As(err, &descErr) {
				t.Fatalf("expected InvalidDescriptorError, got %T: %v", err, err)
			}
			if descErr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, descErr.Field)
			}
		})
	}
}

func TestNewPlan_TileHeightDefaultsToTileWidth(t *testing.T) {
	d := Descriptor{
		BaseURL:   "https://img.example.org/iiif/p9",
		Width:     600,
		Height:    600,
		TileWidth: 300,
	}

	plan, err := NewPlan(d, 1)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	if plan.Rows != 2 || plan.Cols != 2 {
		t.Errorf("expected 2x2 grid, got %dx%d", plan.Rows, plan.Cols)
	}
}

func TestNewPlan_ZeroDeclaredFactor(t *testing.T) {
	// Some services pad scaleFactors with a zero entry. An unset request
	// must not select it; a zero scale would collapse the tile stride.
	d := Descriptor{
		BaseURL:      "https://img.example.org/iiif/p10",
		Width:        1000,
		Height:       800,
		TileWidth:    512,
		ScaleFactors: []int{0, 1},
	}

	plan, err := NewPlan(d, 0)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	if plan.Scale != 1 {
		t.Errorf("expected scale 1, got %d", plan.Scale)
	}
	if plan.Rows != 2 || plan.Cols != 2 {
		t.Errorf("expected 2x2 grid, got %dx%d", plan.Rows, plan.Cols)
	}
}

func TestTileURL_TrimsTrailingSlash(t *testing.T) {
	got := TileURL("https://img.example.org/iiif/p1/", Region{X: 0, Y: 0, W: 10, H: 10}, 10, "png")
	want := "https://img.example.org/iiif/p1/0,0,10,10/10,/0/default.png"
	if got != want {
		t.Errorf("TileURL = %q, want %q", got, want)
	}
}
