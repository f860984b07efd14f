package decoder

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/giorgisio/goav/avcodec"
	"github.com/giorgisio/goav/avutil"
)

// ffmpegBackend wraps FFmpeg's HEVC decoder via goav, the software
// fallback path for platforms without a hardware HEVC decoder.
type ffmpegBackend struct {
	mu       sync.Mutex
	codecCtx *avcodec.Context
	parser   *avcodec.ParserContext
	frame    *avutil.Frame
	pending  []Output
}

// NewFFmpegBackend returns a software Backend implementation.
func NewFFmpegBackend() Backend {
	return &ffmpegBackend{}
}

func (d *ffmpegBackend) New(surface any, refreshRateHz int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	codec := avcodec.AvcodecFindDecoder(avcodec.AV_CODEC_ID_HEVC)
	if codec == nil {
		return fmt.Errorf("ffmpegbackend: HEVC decoder not found")
	}
	ctx := codec.AvcodecAllocContext3()
	if ctx.AvcodecOpen2(codec, nil) < 0 {
		return fmt.Errorf("ffmpegbackend: could not open codec")
	}
	parser := avcodec.AvParserInit(int(avcodec.AV_CODEC_ID_HEVC))
	if parser == nil {
		return fmt.Errorf("ffmpegbackend: parser init failed")
	}

	d.codecCtx = ctx
	d.parser = parser
	d.frame = avutil.AvFrameAlloc()
	return nil
}

func (d *ffmpegBackend) UpdateResolution(w, h int) error {
	// The HEVC bitstream itself carries resolution in-band (VPS/SPS);
	// goav's decoder re-derives dimensions from the next keyframe, so a
	// resolution change only requires a fresh codec context.
	return d.New(nil, 0)
}

func (d *ffmpegBackend) Decode(data []byte, tsNs int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pkt := avcodec.AvPacketAlloc()
	pkt.AvInitPacket()
	pkt.SetData(data)
	pkt.SetSize(len(data))
	pkt.SetPts(tsNs)

	if ret := avcodec.AvcodecSendPacket(d.codecCtx, pkt); ret < 0 {
		return false, fmt.Errorf("ffmpegbackend: send packet failed (%d)", ret)
	}
	if ret := avcodec.AvcodecReceiveFrame(d.codecCtx, d.frame); ret == 0 {
		d.pending = append(d.pending, Output{Frame: planarYUV420(d.frame)})
	}
	return true, nil
}

// planarYUV420 copies a decoded frame's Y/U/V planes into one tightly
// packed buffer, stripping any row padding goav's linesize may carry, so
// the result can be handed straight to an IYUV streaming texture.
func planarYUV420(f *avutil.Frame) []byte {
	w, h := f.Width(), f.Height()
	cw, ch := (w+1)/2, (h+1)/2
	out := make([]byte, w*h+2*cw*ch)

	pos := 0
	pos += copyPlane(out[pos:], f, 0, w, h)
	pos += copyPlane(out[pos:], f, 1, cw, ch)
	copyPlane(out[pos:], f, 2, cw, ch)
	return out
}

// copyPlane copies one decoded plane row by row, honoring the source
// stride (linesize), and returns the number of bytes written.
func copyPlane(dst []byte, f *avutil.Frame, plane, width, height int) int {
	src := f.Data(plane)
	stride := f.Linesize(plane)
	if src == nil || stride <= 0 {
		return width * height
	}
	row := unsafe.Slice((*byte)(unsafe.Pointer(src)), stride*height)
	n := 0
	for y := 0; y < height; y++ {
		n += copy(dst[n:n+width], row[y*stride:y*stride+width])
	}
	return n
}

func (d *ffmpegBackend) Drain() []Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

func (d *ffmpegBackend) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codecCtx = nil
	d.parser = nil
	d.frame = nil
	d.pending = nil
}
