package mavlink

import (
	"bytes"
	"testing"
)

// v1Frame builds a checksummed MAVLink v1 frame for tests.
func v1Frame(seq, sysID, compID, msgID byte, payload []byte) []byte {
	frame := append([]byte{magicV1, byte(len(payload)), seq, sysID, compID, msgID}, payload...)
	crc := checksum(frame[1:], crcExtra[uint32(msgID)])
	return append(frame, byte(crc), byte(crc>>8))
}

func heartbeat(baseMode byte) []byte {
	// custom_mode u32, type, autopilot, base_mode, system_status, version
	return v1Frame(0, 1, 1, msgHeartbeat, []byte{0, 0, 0, 0, 2, 3, baseMode, 4, 3})
}

func TestSplitterReassemblesAcrossReads(t *testing.T) {
	frame := heartbeat(0)

	var got [][]byte
	var s Splitter
	// Feed the frame one byte at a time.
	for _, b := range frame {
		s.Push([]byte{b}, func(f []byte) { got = append(got, f) })
	}
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Errorf("frame = %x, want %x", got[0], frame)
	}
}

func TestSplitterMultipleFramesOnePush(t *testing.T) {
	data := append(append([]byte{}, heartbeat(0)...), heartbeat(baseModeArmed)...)

	var got [][]byte
	var s Splitter
	s.Push(data, func(f []byte) { got = append(got, f) })
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
}

func TestSplitterResyncsOnGarbage(t *testing.T) {
	frame := heartbeat(0)
	data := append([]byte{0x13, 0x37, 0x00}, frame...)

	var got [][]byte
	var s Splitter
	s.Push(data, func(f []byte) { got = append(got, f) })
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Errorf("resync failed, frames = %d", len(got))
	}
}

func TestSplitterV2(t *testing.T) {
	// A v2 frame: magic, len, incompat, compat, seq, sys, comp, msgid[3],
	// payload, crc[2].
	payload := []byte{1, 2, 3}
	frame := []byte{magicV2, byte(len(payload)), 0, 0, 7, 1, 1, 109, 0, 0}
	frame = append(frame, payload...)
	frame = append(frame, 0xAA, 0xBB) // checksum is not validated by the splitter

	var got [][]byte
	var s Splitter
	s.Push(frame[:5], nil)
	s.Push(frame[5:], func(f []byte) { got = append(got, f) })
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if MsgID(got[0]) != 109 {
		t.Errorf("msg id = %d, want 109", MsgID(got[0]))
	}
}

func TestRadioStatus(t *testing.T) {
	frame := RadioStatus(7, 3, 242, 196, 5, 2)

	if len(frame) != 17 {
		t.Fatalf("frame length = %d, want 17", len(frame))
	}
	if frame[0] != magicV1 || frame[1] != 9 {
		t.Errorf("header = %x", frame[:6])
	}
	if MsgID(frame) != msgRadioStatus {
		t.Errorf("msg id = %d, want %d", MsgID(frame), msgRadioStatus)
	}
	// rxerrors little-endian, then fixed, then rssi.
	if frame[6] != 5 || frame[7] != 0 || frame[8] != 2 || frame[10] != 196 {
		t.Errorf("payload = %x", frame[6:15])
	}
	// Known-good checksum for this exact frame.
	if frame[15] != 230 || frame[16] != 220 {
		t.Errorf("crc = %d %d, want 230 220", frame[15], frame[16])
	}

	// And the splitter accepts its own product.
	var s Splitter
	count := 0
	s.Push(frame, func([]byte) { count++ })
	if count != 1 {
		t.Errorf("splitter rejected RadioStatus output")
	}
}

func TestArmWatcherTransitions(t *testing.T) {
	w := &ArmWatcher{}

	w.Frame(heartbeat(0))
	if !w.known || w.armed {
		t.Fatalf("state = known:%v armed:%v, want known, disarmed", w.known, w.armed)
	}

	w.Frame(heartbeat(baseModeArmed))
	if !w.armed {
		t.Errorf("armed transition missed")
	}

	// Non-heartbeat frames don't touch the state.
	w.Frame(RadioStatus(0, 3, 242, 0, 0, 0))
	if !w.armed {
		t.Errorf("state flipped by non-heartbeat frame")
	}

	w.Frame(heartbeat(0))
	if w.armed {
		t.Errorf("disarm transition missed")
	}
}
