// Package rtpbridge is an optional, non-default transport for the
// encoded HEVC stream: it fragments Annex-B access units into RTP
// packets and emits periodic RTCP sender reports, for deployments that
// need to hand the stream to an existing RTP-based receiver instead of
// the module's own byte-oriented wire protocol (internal/wire).
//
// The default host/client pair never uses this package — internal/server
// and internal/client speak the raw TCP wire contract directly, which is
// incompatible with RTP's per-packet framing overhead at the <30ms
// latency target this module targets.
package rtpbridge

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/caststream/scrcast/internal/applog"
)

const (
	defaultMTU       = 1200
	hevcClockRateHz  = 90000
	rtcpReportPeriod = 5 * time.Second
)

// Sender fragments encoded HEVC access units into RTP packets and writes
// them through a caller-supplied sink, alongside periodic RTCP sender
// reports over a second sink.
type Sender struct {
	log *slog.Logger

	mtu       int
	ssrc      uint32
	payloadPT uint8

	mu           sync.Mutex
	seq          uint16
	packetsSent  uint32
	octetsSent   uint32
	lastRTPTime  uint32
	writeRTP     func(pkt *rtp.Packet) error
	writeRTCP    func(pkt rtcp.Packet) error
	stopReporter chan struct{}
}

// NewSender constructs a Sender. writeRTP/writeRTCP are the transport
// hooks (typically a net.PacketConn wrapped by the caller); both must be
// non-nil.
func NewSender(payloadType uint8, writeRTP func(*rtp.Packet) error, writeRTCP func(rtcp.Packet) error) *Sender {
	var ssrcBuf [4]byte
	_, _ = rand.Read(ssrcBuf[:])
	s := &Sender{
		log:       applog.L("rtpbridge"),
		mtu:       defaultMTU,
		ssrc:      binary.BigEndian.Uint32(ssrcBuf[:]),
		payloadPT: payloadType,
		writeRTP:  writeRTP,
		writeRTCP: writeRTCP,
	}
	s.stopReporter = make(chan struct{})
	applog.GoSafe("rtpbridge-rtcp", s.reportLoop)
	return s
}

// Close stops the RTCP reporter goroutine.
func (s *Sender) Close() {
	close(s.stopReporter)
}

// SendAccessUnit fragments one Annex-B encoded access unit (as produced
// by internal/encoder) into one or more RTP packets, marking the final
// fragment's marker bit per RFC 3550 §5.1.
func (s *Sender) SendAccessUnit(data []byte, timestampNs int64) error {
	s.mu.Lock()
	rtpTime := uint32(timestampNs * hevcClockRateHz / int64(time.Second))
	s.lastRTPTime = rtpTime
	s.mu.Unlock()

	maxPayload := s.mtu - 12
	if maxPayload <= 0 {
		maxPayload = 1
	}

	for off := 0; off < len(data); off += maxPayload {
		end := off + maxPayload
		if end > len(data) {
			end = len(data)
		}
		marker := end == len(data)

		s.mu.Lock()
		seq := s.seq
		s.seq++
		s.packetsSent++
		s.octetsSent += uint32(end - off)
		s.mu.Unlock()

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    s.payloadPT,
				SequenceNumber: seq,
				Timestamp:      rtpTime,
				SSRC:           s.ssrc,
			},
			Payload: data[off:end],
		}
		if err := s.writeRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) reportLoop() {
	ticker := time.NewTicker(rtcpReportPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReporter:
			return
		case <-ticker.C:
			s.mu.Lock()
			report := &rtcp.SenderReport{
				SSRC:        s.ssrc,
				NTPTime:     ntpNow(),
				RTPTime:     s.lastRTPTime,
				PacketCount: s.packetsSent,
				OctetCount:  s.octetsSent,
			}
			s.mu.Unlock()
			if err := s.writeRTCP(report); err != nil {
				s.log.Warn("rtcp sender report failed", "err", err)
			}
		}
	}
}

// ntpNow returns the current time as a 64-bit NTP timestamp, the format
// RTCP sender reports require.
func ntpNow() uint64 {
	const ntpEpochOffset = 2208988800
	now := time.Now()
	sec := uint64(now.Unix()+ntpEpochOffset) << 32
	frac := uint64(now.Nanosecond()) * (1 << 32) / 1e9
	return sec | frac
}
