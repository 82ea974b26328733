package remote

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/chromedp/cdproto/dom"
	"go.uber.org/zap"
)

// ElementHandle is a handle to a DOM node.
type ElementHandle struct {
	*JSHandle
}

// Rect is an element's border box in CSS pixels relative to the main frame viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AsElement returns the handle itself.
func (h *ElementHandle) AsElement() *ElementHandle { return h }

// Focus focuses the element.
func (h *ElementHandle) Focus(ctx context.Context) error {
	if err := h.checkLive(); err != nil {
		return err
	}
	if _, err := call(ctx, h.client, dom.CommandFocus, dom.Focus().WithObjectID(h.obj.ObjectID), nil); err != nil {
		return fmt.Errorf("focusing element: %w", err)
	}
	return nil
}

// ScrollIntoViewIfNeeded scrolls the element into view unless it is already visible.
func (h *ElementHandle) ScrollIntoViewIfNeeded(ctx context.Context) error {
	if err := h.checkLive(); err != nil {
		return err
	}
	params := dom.ScrollIntoViewIfNeeded().WithObjectID(h.obj.ObjectID)
	if _, err := call(ctx, h.client, dom.CommandScrollIntoViewIfNeeded, params, nil); err != nil {
		return fmt.Errorf("scrolling element into view: %w", err)
	}
	return nil
}

// BoundingBox returns the element's border box, or nil if the element is
// not rendered.
func (h *ElementHandle) BoundingBox(ctx context.Context) (*Rect, error) {
	if err := h.checkLive(); err != nil {
		return nil, err
	}

	var res dom.GetBoxModelReturns
	if _, err := call(ctx, h.client, dom.CommandGetBoxModel, dom.GetBoxModel().WithObjectID(h.obj.ObjectID), &res); err != nil {
		h.logger.Debug("no box model", zap.Error(err))
		return nil, nil
	}
	if res.Model == nil || len(res.Model.Border) < 8 {
		return nil, nil
	}

	q := res.Model.Border
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(q); i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	return &Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
}

// SetInputFiles sets the files of an <input type=file> element. Relative
// paths are resolved against the working directory.
func (h *ElementHandle) SetInputFiles(ctx context.Context, files ...string) error {
	if err := h.checkLive(); err != nil {
		return err
	}
	abs := make([]string, len(files))
	for i, f := range files {
		p, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", f, err)
		}
		abs[i] = p
	}
	params := dom.SetFileInputFiles(abs).WithObjectID(h.obj.ObjectID)
	if _, err := call(ctx, h.client, dom.CommandSetFileInputFiles, params, nil); err != nil {
		return fmt.Errorf("setting input files: %w", err)
	}
	return nil
}
