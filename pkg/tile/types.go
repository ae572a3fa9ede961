package tile

import "fmt"

// Descriptor holds the geometry and capabilities of one page's image
// service, resolved once per page and read-only afterwards.
type Descriptor struct {
	BaseURL      string
	Width        int
	Height       int
	TileWidth    int
	TileHeight   int // defaults to TileWidth when zero
	ScaleFactors []int
	Formats      []string
}

// Region is a rectangular sub-area of the full-resolution image. Full
// addresses the entire image regardless of the coordinate fields.
type Region struct {
	X, Y int
	W, H int
	Full bool
}

// String renders the region in request form, "full" or "x,y,w,h".
func (r Region) String() string {
	if r.Full {
		return "full"
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// PlanEntry is a single tile request: which region to ask for, at which
// output width, and where the tile belongs in the page grid.
type PlanEntry struct {
	Region       Region
	OutputWidth  int
	OutputHeight int
	Format       string
	Row          int
	Col          int
	URL          string
	Filename     string
}

// Plan is the ordered set of tile requests reconstructing one page at the
// effective scale factor. Entries are in row-major order and their regions
// tile the full image exactly.
type Plan struct {
	Scale   int
	Rows    int
	Cols    int
	Entries []PlanEntry
}

// Fetched pairs a plan entry with the tile file on disk and the dimensions
// decoded from the actual bytes, which may differ from the planned output
// size at image edges.
type Fetched struct {
	Entry  PlanEntry
	Path   string
	Width  int
	Height int
}

// InvalidDescriptorError reports a descriptor missing the geometry needed
// to derive a tile grid.
type InvalidDescriptorError struct {
	Field string
	Value int
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor: %s is %d", e.Field, e.Value)
}

// DecodeError reports tile bytes that could not be decoded as an image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
