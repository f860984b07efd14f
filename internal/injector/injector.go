// Package injector implements the Input Injector Adapter: an opaque sink
// translating screen-pixel pointer commands into OS input events.
package injector

// Injector is the capability set the gesture machine drives. It mirrors
// gesture.Sink so any concrete backend satisfies both without an adapter
// shim.
type Injector interface {
	SetDisplayBounds(x, y, w, h float64)
	Move(sx, sy float64)
	LeftDown(sx, sy float64)
	LeftUp(sx, sy float64)
	RightDown(sx, sy float64)
	RightUp(sx, sy float64)
	Scroll(sx, sy, dx, dy float64)
	DoubleClick(sx, sy float64)
	Zoom(sx, sy float64, delta int)
}
