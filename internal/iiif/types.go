// Package iiif speaks just enough of the IIIF vocabulary for this tool:
// the presentation manifest down to each canvas's image service, and the
// image-service info document describing a page's tile geometry.
package iiif

import (
	"encoding/json"

	"github.com/calmora/tessera/pkg/tile"
)

// Manifest is a presentation manifest: an ordered document of canvases
// grouped into sequences.
type Manifest struct {
	Context   json.RawMessage `json:"@context,omitempty"`
	ID        string          `json:"@id"`
	Type      string          `json:"@type,omitempty"`
	Label     string          `json:"label,omitempty"`
	Sequences []Sequence      `json:"sequences"`
}

// Sequence groups the canvases of one reading order.
type Sequence struct {
	ID       string   `json:"@id,omitempty"`
	Canvases []Canvas `json:"canvases"`
}

// Canvas is a single page surface with its painting annotations.
type Canvas struct {
	ID     string       `json:"@id"`
	Label  string       `json:"label,omitempty"`
	Width  int          `json:"width,omitempty"`
	Height int          `json:"height,omitempty"`
	Images []Annotation `json:"images,omitempty"`
}

// Annotation paints an image resource onto a canvas.
type Annotation struct {
	Resource Resource `json:"resource"`
}

// Resource is the painted image, optionally backed by an image service.
type Resource struct {
	ID      string   `json:"@id,omitempty"`
	Service *Service `json:"service,omitempty"`
}

// Service points at the image service that can tile the resource.
type Service struct {
	Context string          `json:"@context,omitempty"`
	ID      string          `json:"@id"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// Page is one leaf of the document: a canvas label plus the image service
// that tiles it.
type Page struct {
	Index      int // 1-based position among the document's pages
	Label      string
	ServiceURL string
}

// Pages flattens the manifest's sequences into the ordered page list,
// skipping canvases that reference no image service.
func (m *Manifest) Pages() []Page {
	var pages []Page
	for _, seq := range m.Sequences {
		for _, c := range seq.Canvases {
			if len(c.Images) == 0 {
				continue
			}
			svc := c.Images[0].Resource.Service
			if svc == nil || svc.ID == "" {
				continue
			}
			pages = append(pages, Page{
				Index:      len(pages) + 1,
				Label:      c.Label,
				ServiceURL: svc.ID,
			})
		}
	}
	return pages
}

// TileSpec describes the native tile grid advertised by an image service.
type TileSpec struct {
	Width        int   `json:"width"`
	Height       int   `json:"height,omitempty"`
	ScaleFactors []int `json:"scaleFactors,omitempty"`
}

// Info is the image-service descriptor document: full pixel dimensions
// plus tiling and format capabilities.
type Info struct {
	Context string          `json:"@context,omitempty"`
	ID      string          `json:"@id"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
	Tiles   []TileSpec      `json:"tiles,omitempty"`
	Profile json.RawMessage `json:"profile,omitempty"`
}

// Formats extracts the declared formats from the profile, which mixes
// compliance-level URIs (plain strings) with capability objects.
func (i *Info) Formats() []string {
	if len(i.Profile) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(i.Profile, &entries); err != nil {
		return nil
	}
	for _, e := range entries {
		var obj struct {
			Formats []string `json:"formats"`
		}
		if err := json.Unmarshal(e, &obj); err != nil {
			continue
		}
		if len(obj.Formats) > 0 {
			return obj.Formats
		}
	}
	return nil
}

// Descriptor reduces the info document to the geometry the planner
// consumes. Services without a tiles block yield a zero tile width, which
// the planner rejects.
func (i *Info) Descriptor() tile.Descriptor {
	d := tile.Descriptor{
		BaseURL: i.ID,
		Width:   i.Width,
		Height:  i.Height,
		Formats: i.Formats(),
	}
	if len(i.Tiles) > 0 {
		t := i.Tiles[0]
		d.TileWidth = t.Width
		d.TileHeight = t.Height
		d.ScaleFactors = t.ScaleFactors
	}
	return d
}
