package wire

import "errors"

// Sentinel errors for spec §7's taxonomy, classified with errors.Is so
// callers can branch on kind without string matching.
var (
	ErrTransientIO         = errors.New("wire: transient i/o")
	ErrPeerClosed          = errors.New("wire: peer closed")
	ErrProtocolViolation   = errors.New("wire: protocol violation")
	ErrCapacityExceeded    = errors.New("wire: capacity exceeded")
	ErrCodecReconfig       = errors.New("wire: codec reconfiguration")
	ErrConfigError         = errors.New("wire: configuration error")
	ErrExternalToolMissing = errors.New("wire: external tool missing")
)

// MetricLabel maps a taxonomy-classified error to a bounded Prometheus
// label, mirroring the pack's sentinel-error-to-metric-label pattern.
func MetricLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCodecReconfig):
		return "codec_reconfig"
	case errors.Is(err, ErrConfigError):
		return "config_error"
	case errors.Is(err, ErrExternalToolMissing):
		return "external_tool_missing"
	default:
		var fe *FatalError
		if errors.As(err, &fe) {
			return "protocol_violation"
		}
		return "other"
	}
}
