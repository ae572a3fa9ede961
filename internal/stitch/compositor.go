package stitch

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/webp"

	"github.com/calmora/tessera/pkg/tile"
)

// jpegQuality is the encoding quality for combined page images.
const jpegQuality = 90

// maxCanvasArea caps combined pages at 10000x10000 pixels.
const maxCanvasArea = 10000 * 10000

// CompositionError reports tiles whose measured dimensions cannot form a
// consistent grid layout.
type CompositionError struct {
	Dest   string
	Reason string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composing %s: %s", e.Dest, e.Reason)
}

// Compositor reassembles fetched tiles into a single page image.
type Compositor struct {
	force bool
}

// New creates a compositor. With force set, an existing destination is
// overwritten instead of short-circuiting the composition.
func New(force bool) *Compositor {
	return &Compositor{force: force}
}

// Compose paints the tiles onto one canvas in their row-major order and
// encodes the result as JPEG at dest. When dest already exists and force
// is off the call succeeds without reading a single tile.
//
// Canvas geometry comes from the decoded tile sizes, not the planned
// ones: one representative width per column and one representative height
// per row, summed. A tile disagreeing with its row height or column width
// would shift every later placement, so disagreement fails the page.
func (c *Compositor) Compose(tiles []tile.Fetched, dest string) error {
	if !c.force {
		if _, err := os.Stat(dest); err == nil {
			fmt.Fprintf(os.Stderr, "%s exists, skipping\n", dest)
			return nil
		}
	}
	if len(tiles) == 0 {
		return &CompositionError{Dest: dest, Reason: "no tiles to compose"}
	}

	colWidths := make(map[int]int)
	rowHeights := make(map[int]int)
	for _, ft := range tiles {
		if w, ok := colWidths[ft.Entry.Col]; ok {
			if w != ft.Width {
				return &CompositionError{
					Dest:   dest,
					Reason: fmt.Sprintf("column %d is %d wide but %s decoded to %d", ft.Entry.Col, w, ft.Entry.Filename, ft.Width),
				}
			}
		} else {
			colWidths[ft.Entry.Col] = ft.Width
		}
		if h, ok := rowHeights[ft.Entry.Row]; ok {
			if h != ft.Height {
				return &CompositionError{
					Dest:   dest,
					Reason: fmt.Sprintf("row %d is %d tall but %s decoded to %d", ft.Entry.Row, h, ft.Entry.Filename, ft.Height),
				}
			}
		} else {
			rowHeights[ft.Entry.Row] = ft.Height
		}
	}

	canvasW := 0
	for _, w := range colWidths {
		canvasW += w
	}
	canvasH := 0
	for _, h := range rowHeights {
		canvasH += h
	}
	if int64(canvasW)*int64(canvasH) > maxCanvasArea {
		return &CompositionError{
			Dest:   dest,
			Reason: fmt.Sprintf("combined size too large: %dx%d", canvasW, canvasH),
		}
	}

	canvas := imaging.New(canvasW, canvasH, color.White)

	// Tiles arrive in the planner's row-major order; the cursor walks
	// left to right and advances a full row height at each row change.
	curX, curY := 0, 0
	row := tiles[0].Entry.Row
	for _, ft := range tiles {
		if ft.Entry.Row != row {
			curY += rowHeights[row]
			curX = 0
			row = ft.Entry.Row
		}

		img, err := imaging.Open(ft.Path)
		if err != nil {
			return &tile.DecodeError{Path: ft.Path, Err: err}
		}
		b := img.Bounds()
		if b.Dx() != ft.Width || b.Dy() != ft.Height {
			return &CompositionError{
				Dest:   dest,
				Reason: fmt.Sprintf("%s decoded to %dx%d but was measured at %dx%d", ft.Entry.Filename, b.Dx(), b.Dy(), ft.Width, ft.Height),
			}
		}

		r := image.Rect(curX, curY, curX+ft.Width, curY+ft.Height)
		draw.Draw(canvas, r, img, b.Min, draw.Src)
		curX += ft.Width
	}

	if err := writeAtomic(dest, canvas); err != nil {
		return fmt.Errorf("encoding %s: %w", dest, err)
	}
	return nil
}

// writeAtomic encodes the canvas under a unique temporary name in the
// destination directory and renames it into place, so a failed or
// interrupted encode never leaves a partial image at the final path.
func writeAtomic(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return err
	}
	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
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
