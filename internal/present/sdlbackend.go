// Package present implements the client's presentation surface — out of
// scope for the streaming core proper, but wired here as a concrete
// backend the decoder adapter can render decoded output to.
package present

import (
	"fmt"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"
)

// Surface is a window onto which decoded frames are rendered, vsync
// pacing permitting. It is deliberately minimal: the decoder adapter
// treats the surface as opaque, and its owner (cmd/clientd) only calls
// Render/Resize/PumpEvents/Close.
type Surface struct {
	mu       sync.Mutex
	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	width    int
	height   int
}

// NewSurface creates a titled SDL2 window sized w x h.
func NewSurface(title string, w, h int) (*Surface, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("present: sdl init: %w", err)
	}
	win, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(w), int32(h), sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, fmt.Errorf("present: create window: %w", err)
	}
	rend, err := sdl.CreateRenderer(win, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		return nil, fmt.Errorf("present: create renderer: %w", err)
	}
	tex, err := rend.CreateTexture(sdl.PIXELFORMAT_IYUV, sdl.TEXTUREACCESS_STREAMING, int32(w), int32(h))
	if err != nil {
		return nil, fmt.Errorf("present: create texture: %w", err)
	}
	return &Surface{window: win, renderer: rend, texture: tex, width: w, height: h}, nil
}

// Resize tears down and recreates the texture for a new frame size.
func (s *Surface) Resize(w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == s.width && h == s.height {
		return nil
	}
	s.texture.Destroy()
	tex, err := s.renderer.CreateTexture(sdl.PIXELFORMAT_IYUV, sdl.TEXTUREACCESS_STREAMING, int32(w), int32(h))
	if err != nil {
		return fmt.Errorf("present: resize texture: %w", err)
	}
	s.texture = tex
	s.width, s.height = w, h
	return nil
}

// Render pushes a raw IYUV frame to the texture and presents it, sleeping
// until presentsAt (the decoder's vsync-rounded release timestamp) if it
// is still in the future.
func (s *Surface) Render(yuv []byte, presentsAt int64) error {
	if d := time.Until(time.Unix(0, presentsAt)); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.texture.Update(nil, yuv, s.width); err != nil {
		return fmt.Errorf("present: texture update: %w", err)
	}
	if err := s.renderer.Copy(s.texture, nil, nil); err != nil {
		return fmt.Errorf("present: renderer copy: %w", err)
	}
	s.renderer.Present()
	return nil
}

// PumpEvents drains SDL's single process-wide event queue, invoking
// onEvent for every event that is not a quit request, and returns false
// on a quit request so the caller can begin shutdown. SDL's queue has
// exactly one reader; this is the only call site in the module allowed
// to poll it, so callers must route all event handling (input included)
// through onEvent rather than polling sdl.PollEvent themselves.
func (s *Surface) PumpEvents(onEvent func(sdl.Event)) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return false
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
	return true
}

// Close releases all SDL resources.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texture != nil {
		s.texture.Destroy()
	}
	if s.renderer != nil {
		s.renderer.Destroy()
	}
	if s.window != nil {
		s.window.Destroy()
	}
	sdl.Quit()
}
