// Package geometry converts element bounds between the view-local, window-absolute and
// zoom-scaled coordinate spaces.
package geometry

import (
	"math"

	"github.com/chromedp/cdproto/dom"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
)

// ToAbsoluteScaled moves local into window space by offset, clips it to viewport and
// scales the result by zoom. The order is fixed: offset, then clip, then scale.
func ToAbsoluteScaled(local schemas.Rect, offset schemas.Point, viewport schemas.Rect, zoom float64) schemas.Rect {
	absolute := schemas.Rect{
		X:      offset.X + local.X,
		Y:      offset.Y + local.Y,
		Width:  local.Width,
		Height: local.Height,
	}
	clipped := Intersect(absolute, viewport)
	return Scale(clipped, zoom)
}

// Intersect clips a to b. Width and height are clamped at zero when the rects do not
// overlap; x and y are the larger of the two left and top edges.
func Intersect(a, b schemas.Rect) schemas.Rect {
	x := math.Max(a.X, b.X)
	y := math.Max(a.Y, b.Y)
	right := math.Min(a.X+a.Width, b.X+b.Width)
	bottom := math.Min(a.Y+a.Height, b.Y+b.Height)
	return schemas.Rect{
		X:      x,
		Y:      y,
		Width:  math.Max(0, right-x),
		Height: math.Max(0, bottom-y),
	}
}

func Scale(r schemas.Rect, zoom float64) schemas.Rect {
	return schemas.Rect{
		X:      r.X * zoom,
		Y:      r.Y * zoom,
		Width:  r.Width * zoom,
		Height: r.Height * zoom,
	}
}

// RectFromQuad returns the axis-aligned bound of a box model quad
// (x1,y1 .. x4,y4, clockwise from top-left). Short quads yield a zero rect.
func RectFromQuad(q dom.Quad) schemas.Rect {
	if len(q) < 8 {
		return schemas.Rect{}
	}
	minX, maxX := q[0], q[0]
	minY, maxY := q[1], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX = math.Min(minX, q[i])
		maxX = math.Max(maxX, q[i])
		minY = math.Min(minY, q[i+1])
		maxY = math.Max(maxY, q[i+1])
	}
	return schemas.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// BoundsFromBoxModel derives an element bound from its margin and content boxes: the
// margin box unless the content box extends further.
func BoundsFromBoxModel(m *dom.BoxModel) schemas.Rect {
	if m == nil {
		return schemas.Rect{}
	}
	margin := RectFromQuad(m.Margin)
	content := RectFromQuad(m.Content)
	return schemas.Rect{
		X:      math.Min(margin.X, content.X),
		Y:      math.Min(margin.Y, content.Y),
		Width:  math.Max(margin.Width, content.Width),
		Height: math.Max(margin.Height, content.Height),
	}
}
