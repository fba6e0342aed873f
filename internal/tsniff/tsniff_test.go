package tsniff

import "testing"

func makePacketAligned(n int, syncAt map[int]byte) []byte {
	buf := make([]byte, n)
	for off, b := range syncAt {
		buf[off] = b
	}
	return buf
}

func TestIsTransportStream_TooShort(t *testing.T) {
	buf := make([]byte, 100)
	buf[0] = syncByte
	if IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = true for a buffer shorter than one packet")
	}
}

func TestIsTransportStream_NoLeadingSync(t *testing.T) {
	buf := makePacketAligned(376, map[int]byte{188: syncByte})
	if IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = true without a sync byte at offset 0")
	}
}

func TestIsTransportStream_SingleSyncOnly(t *testing.T) {
	buf := makePacketAligned(200, map[int]byte{0: syncByte})
	if IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = true with only the leading sync byte present")
	}
}

func TestIsTransportStream_AlignedPair(t *testing.T) {
	buf := makePacketAligned(400, map[int]byte{0: syncByte, 188: syncByte})
	if !IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = false for two aligned sync bytes")
	}
}

func TestIsTransportStream_FullFivePacketRun(t *testing.T) {
	buf := makePacketAligned(1128, map[int]byte{
		0: syncByte, 188: syncByte, 376: syncByte, 564: syncByte, 752: syncByte, 940: syncByte,
	})
	if !IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = false for a fully sync-aligned buffer")
	}
}

func TestIsTransportStream_RandomBinaryNoise(t *testing.T) {
	buf := make([]byte, 2000)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	if IsTransportStream(buf) {
		t.Errorf("IsTransportStream() = true for non-TS binary noise")
	}
}
