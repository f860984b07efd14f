// Package wire implements the byte-exact framed protocol shared by hostd
// and clientd: VIDEO_FRAME, DISPLAY_CONFIG, TOUCH_EVENT, PING and PONG.
//
// Integers on the video channel are big-endian. Touch and ping/pong
// payloads use little-endian for their numeric fields; ping/pong
// timestamps are opaque bytes echoed verbatim. There is no
// resynchronization after a Fatal: an unknown tag or an over-limit size
// cannot be recovered from mid-stream.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag identifies a message type on the wire.
type Tag byte

const (
	TagVideoFrame    Tag = 0x00
	TagDisplayConfig Tag = 0x01
	TagTouchEvent    Tag = 0x02
	TagPing          Tag = 0x04
	TagPong          Tag = 0x05
)

// MaxFrameSize is the largest VIDEO_FRAME payload accepted; larger is fatal.
const MaxFrameSize = 5 * 1024 * 1024

// TouchAction mirrors the Touch Sample action enum.
type TouchAction int32

const (
	ActionDown TouchAction = 0
	ActionMove TouchAction = 1
	ActionUp   TouchAction = 2
)

// ErrNeedMore indicates the stream does not yet contain a whole message.
var ErrNeedMore = errors.New("wire: need more bytes")

// FatalError is a protocol violation that ends the connection; the
// protocol has no length-prefixed envelope so the reader cannot resync.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "wire: fatal: " + e.Reason }

func fatalf(format string, args ...any) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// Message is the sum type decoded from the wire. Exactly one of the
// typed fields is meaningful, selected by Tag.
type Message struct {
	Tag Tag

	// VIDEO_FRAME
	FrameData []byte

	// DISPLAY_CONFIG
	Width    int32
	Height   int32
	Rotation int32

	// TOUCH_EVENT
	PointerCount uint8
	X1, Y1       float32
	X2, Y2       float32
	Action       TouchAction

	// PING / PONG
	Timestamp [8]byte
}

// EncodeVideoFrame appends a VIDEO_FRAME message: 0x00 + BE32(len) + data.
func EncodeVideoFrame(data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	out = append(out, byte(TagVideoFrame))
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return out
}

// EncodeDisplayConfig appends a DISPLAY_CONFIG message: exactly 13 bytes.
func EncodeDisplayConfig(width, height, rotation int32) []byte {
	out := make([]byte, 0, 13)
	out = append(out, byte(TagDisplayConfig))
	out = binary.BigEndian.AppendUint32(out, uint32(width))
	out = binary.BigEndian.AppendUint32(out, uint32(height))
	out = binary.BigEndian.AppendUint32(out, uint32(rotation))
	return out
}

// EncodeTouchEvent appends a TOUCH_EVENT message: 14 bytes for count=1,
// 22 bytes for count=2.
func EncodeTouchEvent(count uint8, x1, y1, x2, y2 float32, action TouchAction) ([]byte, error) {
	if count != 1 && count != 2 {
		return nil, fatalf("invalid pointerCount %d", count)
	}
	size := 2 + 8
	if count == 2 {
		size += 8
	}
	size += 4
	out := make([]byte, 0, size)
	out = append(out, byte(TagTouchEvent), count)
	out = appendLEf32(out, x1)
	out = appendLEf32(out, y1)
	if count == 2 {
		out = appendLEf32(out, x2)
		out = appendLEf32(out, y2)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(int32(action)))
	return out, nil
}

// EncodePing appends a PING message: 0x04 followed by 8 opaque bytes.
func EncodePing(ts [8]byte) []byte {
	out := make([]byte, 0, 9)
	out = append(out, byte(TagPing))
	out = append(out, ts[:]...)
	return out
}

// EncodePong appends a PONG message: 0x05 followed by the echoed 8 bytes.
func EncodePong(ts [8]byte) []byte {
	out := make([]byte, 0, 9)
	out = append(out, byte(TagPong))
	out = append(out, ts[:]...)
	return out
}

func appendLEf32(b []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
}

// Decode attempts to consume one whole message from buf. It returns the
// message, the number of bytes consumed from buf, and an error which is
// either nil, ErrNeedMore, or a *FatalError.
func Decode(buf []byte) (*Message, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrNeedMore
	}
	tag := Tag(buf[0])
	switch tag {
	case TagVideoFrame:
		if len(buf) < 5 {
			return nil, 0, ErrNeedMore
		}
		size := binary.BigEndian.Uint32(buf[1:5])
		if size > MaxFrameSize {
			return nil, 0, fatalf("video frame size %d exceeds %d", size, MaxFrameSize)
		}
		total := 5 + int(size)
		if len(buf) < total {
			return nil, 0, ErrNeedMore
		}
		data := make([]byte, size)
		copy(data, buf[5:total])
		return &Message{Tag: tag, FrameData: data}, total, nil

	case TagDisplayConfig:
		if len(buf) < 13 {
			return nil, 0, ErrNeedMore
		}
		w := int32(binary.BigEndian.Uint32(buf[1:5]))
		h := int32(binary.BigEndian.Uint32(buf[5:9]))
		r := int32(binary.BigEndian.Uint32(buf[9:13]))
		return &Message{Tag: tag, Width: w, Height: h, Rotation: r}, 13, nil

	case TagTouchEvent:
		if len(buf) < 2 {
			return nil, 0, ErrNeedMore
		}
		count := buf[1]
		if count != 1 && count != 2 {
			return nil, 0, fatalf("invalid pointerCount %d", count)
		}
		size := 2 + 8
		if count == 2 {
			size += 8
		}
		size += 4
		if len(buf) < size {
			return nil, 0, ErrNeedMore
		}
		msg := &Message{Tag: tag, PointerCount: count}
		off := 2
		msg.X1 = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		msg.Y1 = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if count == 2 {
			msg.X2 = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
			msg.Y2 = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
		}
		msg.Action = TouchAction(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
		off += 4
		return msg, off, nil

	case TagPing, TagPong:
		if len(buf) < 9 {
			return nil, 0, ErrNeedMore
		}
		var ts [8]byte
		copy(ts[:], buf[1:9])
		return &Message{Tag: tag, Timestamp: ts}, 9, nil

	default:
		return nil, 0, fatalf("unknown tag 0x%02x", byte(tag))
	}
}
