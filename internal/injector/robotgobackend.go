package injector

import (
	"log/slog"
	"sync"

	"github.com/go-vgo/robotgo"

	"github.com/caststream/scrcast/internal/applog"
)

// robotgoBackend maps screen-pixel pointer commands onto the OS cursor
// and input queue via robotgo. Coordinates are clamped to the configured
// display bounds so a slightly-stale client can't drive the cursor off
// the virtual display.
type robotgoBackend struct {
	log *slog.Logger

	mu                               sync.Mutex
	originX, originY, width, height float64
}

// NewRobotgoBackend returns a concrete Injector backed by robotgo.
func NewRobotgoBackend() Injector {
	return &robotgoBackend{log: applog.L("injector")}
}

func (r *robotgoBackend) SetDisplayBounds(x, y, w, h float64) {
	r.mu.Lock()
	r.originX, r.originY, r.width, r.height = x, y, w, h
	r.mu.Unlock()
}

func (r *robotgoBackend) clamp(sx, sy float64) (int, int) {
	r.mu.Lock()
	ox, oy, w, h := r.originX, r.originY, r.width, r.height
	r.mu.Unlock()
	if w > 0 {
		if sx < ox {
			sx = ox
		}
		if sx > ox+w {
			sx = ox + w
		}
	}
	if h > 0 {
		if sy < oy {
			sy = oy
		}
		if sy > oy+h {
			sy = oy + h
		}
	}
	return int(sx), int(sy)
}

func (r *robotgoBackend) Move(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
}

func (r *robotgoBackend) LeftDown(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Toggle("left", "down")
}

func (r *robotgoBackend) LeftUp(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Toggle("left", "up")
}

func (r *robotgoBackend) RightDown(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Toggle("right", "down")
}

func (r *robotgoBackend) RightUp(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Toggle("right", "up")
}

func (r *robotgoBackend) Scroll(sx, sy, dx, dy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Scroll(int(dx), int(dy))
}

func (r *robotgoBackend) DoubleClick(sx, sy float64) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.Click("left", true)
}

// Zoom realizes pinch-zoom as a ctrl-modified wheel event, the more
// broadly portable of the two options discussed for this open question.
func (r *robotgoBackend) Zoom(sx, sy float64, delta int) {
	x, y := r.clamp(sx, sy)
	robotgo.Move(x, y)
	robotgo.KeyToggle("lctrl", "down")
	robotgo.Scroll(0, delta)
	robotgo.KeyToggle("lctrl", "up")
}
