// Package adbhelper implements the optional Port-forward Helper: a thin
// wrapper over the adb CLI that sets up a reverse tunnel so the device
// can dial back to the host's streaming port. All failures here are
// non-fatal — streaming proceeds over whatever transport is already
// reachable.
package adbhelper

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/caststream/scrcast/internal/applog"
)

// Helper locates and drives the adb binary for reverse port forwarding.
type Helper struct {
	log    *slog.Logger
	serial string
	binary string
}

// New constructs a Helper targeting the given device serial (empty means
// "the only attached device").
func New(serial string) *Helper {
	return &Helper{log: applog.L("adbhelper"), serial: serial}
}

// FindBinary locates adb on PATH, returning ("", false) if absent.
func (h *Helper) FindBinary() (string, bool) {
	if h.binary != "" {
		return h.binary, true
	}
	path, err := exec.LookPath("adb")
	if err != nil {
		h.log.Warn("adb binary not found on PATH", "err", err)
		return "", false
	}
	h.binary = path
	return path, true
}

func (h *Helper) args(extra ...string) []string {
	args := make([]string, 0, 2+len(extra))
	if h.serial != "" {
		args = append(args, "-s", h.serial)
	}
	return append(args, extra...)
}

// SetupReverse asks the device to connect back to 127.0.0.1:port on the
// host whenever it dials tcp:port on its own loopback.
func (h *Helper) SetupReverse(port int) bool {
	bin, ok := h.FindBinary()
	if !ok {
		return false
	}
	remote := "tcp:" + strconv.Itoa(port)
	local := "tcp:" + strconv.Itoa(port)
	cmd := exec.Command(bin, h.args("reverse", remote, local)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.log.Warn("adb reverse failed", "err", err, "output", string(out))
		return false
	}
	return true
}

// RemoveReverse tears down a previously established reverse tunnel.
func (h *Helper) RemoveReverse(port int) bool {
	bin, ok := h.FindBinary()
	if !ok {
		return false
	}
	remote := "tcp:" + strconv.Itoa(port)
	cmd := exec.Command(bin, h.args("reverse", "--remove", remote)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.log.Warn("adb reverse --remove failed", "err", err, "output", string(out))
		return false
	}
	return true
}

// deviceLine is one parsed row of `adb devices` output.
type deviceLine struct {
	serial string
	state  string
}

// parseDevicesOutput parses `adb devices` output, e.g.:
//
//	List of devices attached
//	192.168.66.102:5555	device
//	emulator-5554	offline
func parseDevicesOutput(output string) []deviceLine {
	var devices []deviceLine
	for i, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices = append(devices, deviceLine{serial: fields[0], state: fields[1]})
		}
	}
	return devices
}

// IsDeviceConnected reports whether any device is attached in the
// "device" state (as opposed to offline/unauthorized).
func (h *Helper) IsDeviceConnected() bool {
	bin, ok := h.FindBinary()
	if !ok {
		return false
	}
	cmd := exec.Command(bin, "devices")
	out, err := cmd.CombinedOutput()
	if err != nil {
		h.log.Warn("adb devices failed", "err", err)
		return false
	}
	for _, d := range parseDevicesOutput(string(out)) {
		if d.state != "device" {
			continue
		}
		if h.serial == "" || d.serial == h.serial {
			return true
		}
	}
	return false
}

func (h *Helper) String() string {
	return fmt.Sprintf("adbhelper(serial=%q)", h.serial)
}
