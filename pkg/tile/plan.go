package tile

import (
	"fmt"
	"strings"
)

// DefaultFormat is requested when a descriptor declares no formats.
const DefaultFormat = "jpg"

// NewPlan derives the ordered set of tile requests covering the full image
// described by d at the requested scale factor.
//
// When the descriptor declares supported scale factors and the requested
// one is not among them, the plan falls back to the smallest declared
// factor, the highest-resolution rendition the service is known to serve.
// Without a declared set the requested factor is used as-is, or 1 when
// unset.
func NewPlan(d Descriptor, requestedScale int) (*Plan, error) {
	if d.Width <= 0 {
		return nil, &InvalidDescriptorError{Field: "width", Value: d.Width}
	}
	if d.Height <= 0 {
		return nil, &InvalidDescriptorError{Field: "height", Value: d.Height}
	}
	if d.TileWidth <= 0 {
		return nil, &InvalidDescriptorError{Field: "tileWidth", Value: d.TileWidth}
	}

	tileH := d.TileHeight
	if tileH <= 0 {
		tileH = d.TileWidth
	}

	scale := effectiveScale(d.ScaleFactors, requestedScale)
	format := pickFormat(d.Formats)

	stepW := d.TileWidth * scale
	stepH := tileH * scale

	// A single stride covering the whole image collapses to the "full"
	// region sentinel.
	whole := d.Width <= stepW && d.Height <= stepH

	p := &Plan{Scale: scale}
	for y := 0; y < d.Height; y += stepH {
		col := 0
		for x := 0; x < d.Width; x += stepW {
			regionW := stepW
			if x+regionW > d.Width {
				regionW = d.Width - x
			}
			regionH := stepH
			if y+regionH > d.Height {
				regionH = d.Height - y
			}

			outW := ceilDiv(regionW, scale)
			if outW > d.TileWidth {
				outW = d.TileWidth
			}
			outH := ceilDiv(regionH, scale)
			if outH > tileH {
				outH = tileH
			}

			region := Region{X: x, Y: y, W: regionW, H: regionH}
			if whole {
				region = Region{Full: true}
			}

			p.Entries = append(p.Entries, PlanEntry{
				Region:       region,
				OutputWidth:  outW,
				OutputHeight: outH,
				Format:       format,
				Row:          p.Rows,
				Col:          col,
				URL:          TileURL(d.BaseURL, region, outW, format),
				Filename:     TileFilename(region, outW, scale, format),
			})
			col++
		}
		if col > p.Cols {
			p.Cols = col
		}
		p.Rows++
	}

	return p, nil
}

// effectiveScale resolves the scale factor to request. A declared factor
// set is authoritative: anything outside it falls back to the smallest
// positive entry. Non-positive entries never match, so a zero request
// cannot select a zero factor.
func effectiveScale(declared []int, requested int) int {
	if len(declared) == 0 {
		if requested > 0 {
			return requested
		}
		return 1
	}
	min := 0
	for _, s := range declared {
		if s == requested && s > 0 {
			return s
		}
		if s > 0 && (min == 0 || s < min) {
			min = s
		}
	}
	if min == 0 {
		min = 1
	}
	return min
}

// pickFormat prefers jpg, then the first declared format.
func pickFormat(formats []string) string {
	for _, f := range formats {
		if f == DefaultFormat {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return DefaultFormat
}

// TileURL builds the request URL for one tile. The size segment carries
// the width only; the trailing comma asks the service for proportional
// height, so clipped edge regions come back at their natural aspect.
func TileURL(baseURL string, region Region, width int, format string) string {
	return fmt.Sprintf("%s/%s/%d,/0/default.%s", strings.TrimRight(baseURL, "/"), region, width, format)
}

// TileFilename names a tile on disk by region and output width. Plans at
// a scale factor other than 1 carry an x{scale} suffix so renditions of
// the same region never collide between runs.
func TileFilename(region Region, width, scale int, format string) string {
	if scale == 1 {
		return fmt.Sprintf("%s_%d.%s", region, width, format)
	}
	return fmt.Sprintf("%s_%dx%d.%s", region, width, scale, format)
}

// ceilDiv rounds the quotient up. Callers guarantee b > 0.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
