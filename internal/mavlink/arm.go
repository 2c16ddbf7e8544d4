package mavlink

import (
	"os/exec"

	"github.com/finchrf/skybridge/internal/logger"
)

const baseModeArmed = 0x80

// ArmWatcher tracks the vehicle ARM state from HEARTBEAT frames and runs a
// command on each transition. Hook it on both traffic directions so either
// end's heartbeat flips the state.
type ArmWatcher struct {
	OnArm    string
	OnDisarm string

	armed bool
	known bool
}

// Frame inspects one MAVLink frame. Non-heartbeat frames are ignored.
func (w *ArmWatcher) Frame(frame []byte) {
	if MsgID(frame) != msgHeartbeat {
		return
	}
	payload := framePayload(frame)
	// custom_mode u32, type u8, autopilot u8, base_mode u8, ...
	if len(payload) < 7 {
		return
	}
	armed := payload[6]&baseModeArmed != 0
	if w.known && armed == w.armed {
		return
	}
	w.known = true
	w.armed = armed

	cmd := w.OnDisarm
	if armed {
		cmd = w.OnArm
	}
	logger.Info("vehicle arm state changed", "armed", armed)
	if cmd == "" {
		return
	}
	go func() {
		if err := exec.Command("sh", "-c", cmd).Run(); err != nil {
			logger.Error("arm hook failed", "cmd", cmd, "error", err)
		}
	}()
}

func framePayload(frame []byte) []byte {
	switch {
	case frame[0] == magicV1 && len(frame) >= 8:
		return frame[6 : len(frame)-2]
	case frame[0] == magicV2 && len(frame) >= 12:
		n := int(frame[1])
		if len(frame) < 10+n {
			return nil
		}
		return frame[10 : 10+n]
	default:
		return nil
	}
}
