package audio

import (
	"encoding/binary"
	"testing"
)

func TestWAVFromPCM16Header(t *testing.T) {
	pcm := make([]byte, 480)
	out, err := WAVFromPCM16(pcm, PlaybackSampleRate)
	if err != nil {
		t.Fatalf("WAVFromPCM16() error = %v", err)
	}
	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q %q", out[0:4], out[8:12])
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != PlaybackSampleRate {
		t.Fatalf("sample rate = %d, want %d", rate, PlaybackSampleRate)
	}
	if dataSize := binary.LittleEndian.Uint32(out[40:44]); dataSize != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", dataSize, len(pcm))
	}
}

func TestWAVFromPCM16DefaultsSampleRate(t *testing.T) {
	out, err := WAVFromPCM16([]byte{0, 0}, 0)
	if err != nil {
		t.Fatalf("WAVFromPCM16() error = %v", err)
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != PlaybackSampleRate {
		t.Fatalf("default sample rate = %d, want %d", rate, PlaybackSampleRate)
	}
}
