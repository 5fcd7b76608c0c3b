package frame_test

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/downfa11-org/tapestore/pkg/frame"
	"github.com/downfa11-org/tapestore/pkg/types"
)

func TestReadFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		stamp   int64
		key     string
		payload []byte
	}{
		{"simple", 1, "stream1", []byte("hello")},
		{"negative stamp", -42, "k", []byte{0, 1, 2}},
		{"empty payload", 7, "only-name", nil},
		{"unicode key", 3, "поток-1", []byte("data")},
		{"long payload", 99, "big", bytes.Repeat([]byte{0xAB}, 70000)},
		{"long key", 5, strings.Repeat("k", 300), []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := frame.WriteFrame(&buf, tt.stamp, tt.key, tt.payload); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if buf.Len() != frame.Size(tt.key, tt.payload) {
				t.Fatalf("expected %d bytes, got %d", frame.Size(tt.key, tt.payload), buf.Len())
			}

			got, err := frame.ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if got.Stamp != tt.stamp || got.Name != tt.key || !bytes.Equal(got.Payload, tt.payload) {
				t.Fatalf("round trip mismatch: got %+v", got)
			}
			if got.IsEmpty() {
				t.Fatalf("real frame reported as empty")
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	enc := frame.Encode(0x0102030405060708, "ab", []byte{9})

	want := []byte{8, 7, 6, 5, 4, 3, 2, 1, 2, 'a', 'b', 1, 9}
	if !bytes.Equal(enc.Data, want) {
		t.Fatalf("unexpected layout\nwant %v\ngot  %v", want, enc.Data)
	}
	if enc.Hash != sha1.Sum(want) {
		t.Fatalf("hash is not sha1 over the encoded bytes")
	}
	if enc.Len() != len(want)+frame.HashSize {
		t.Fatalf("unexpected Len %d", enc.Len())
	}
}

func TestEncodeVarintPayloadLength(t *testing.T) {
	payload := make([]byte, 300)
	enc := frame.Encode(0, "", payload)

	// 8 stamp bytes, 1 byte name length, then 300 as 0xAC 0x02
	if enc.Data[9] != 0xAC || enc.Data[10] != 0x02 {
		t.Fatalf("expected 7-bit encoded length, got % x", enc.Data[9:11])
	}
}

func TestReadFrameTamperedHash(t *testing.T) {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, 1, "stream", []byte("payload")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	raw := buf.Bytes()

	for i := len(raw) - frame.HashSize; i < len(raw); i++ {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0xFF

		_, err := frame.ReadFrame(bytes.NewReader(tampered))
		if !errors.Is(err, types.ErrIntegrity) {
			t.Fatalf("byte %d: expected integrity error, got %v", i, err)
		}
		var ie *types.IntegrityError
		if !errors.As(err, &ie) {
			t.Fatalf("byte %d: expected *IntegrityError", i)
		}

		if _, ok := frame.TryReadFrame(bytes.NewReader(tampered)); ok {
			t.Fatalf("byte %d: TryReadFrame must fail on tampered frame", i)
		}
	}
}

func TestReadFrameTamperedPayload(t *testing.T) {
	var buf bytes.Buffer
	_ = frame.WriteFrame(&buf, 10, "s", []byte("abcdef"))
	raw := buf.Bytes()
	raw[12] ^= 0x01

	res := frame.Decode(bytes.NewReader(raw))
	if res.Outcome != frame.OutcomeCorrupt {
		t.Fatalf("expected corrupt outcome, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, types.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", res.Err)
	}
}

func TestReadFrameEndOfData(t *testing.T) {
	var buf bytes.Buffer
	_ = frame.WriteFrame(&buf, 1, "stream", []byte("payload"))
	raw := buf.Bytes()

	for _, n := range []int{0, 3, 8, 12, len(raw) - 1} {
		_, err := frame.ReadFrame(bytes.NewReader(raw[:n]))
		if !errors.Is(err, frame.ErrEndOfData) {
			t.Fatalf("truncated at %d: expected ErrEndOfData, got %v", n, err)
		}
		if res := frame.Decode(bytes.NewReader(raw[:n])); res.Outcome != frame.OutcomeEnd {
			t.Fatalf("truncated at %d: expected end outcome, got %v", n, res.Outcome)
		}
	}
}

func TestReadFramePadding(t *testing.T) {
	zeros := make([]byte, 64)

	d, err := frame.ReadFrame(bytes.NewReader(zeros))
	if err != nil {
		t.Fatalf("padding must not be an error: %v", err)
	}
	if !d.IsEmpty() {
		t.Fatalf("expected empty frame")
	}
	if res := frame.Decode(bytes.NewReader(zeros)); res.Outcome != frame.OutcomePadding {
		t.Fatalf("expected padding outcome, got %v", res.Outcome)
	}
	if _, ok := frame.TryReadFrame(bytes.NewReader(zeros)); ok {
		t.Fatalf("TryReadFrame must stop at padding")
	}
}

func TestZeroValuedFrameWithHashDecodes(t *testing.T) {
	var buf bytes.Buffer
	_ = frame.WriteFrame(&buf, 0, "", nil)

	d, err := frame.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !d.IsEmpty() {
		t.Fatalf("zero-valued frame should report IsEmpty")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	raw := make([]byte, 8)
	raw = append(raw, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F)

	res := frame.Decode(bytes.NewReader(raw))
	if res.Outcome != frame.OutcomeCorrupt {
		t.Fatalf("expected corrupt outcome, got %v", res.Outcome)
	}
}

func TestReadFrameGarbageLengthDoesNotAllocate(t *testing.T) {
	raw := make([]byte, 8)
	raw = binary.AppendUvarint(raw, 0)
	raw = binary.AppendUvarint(raw, 1<<30)
	raw = append(raw, []byte("short")...)

	if _, err := frame.ReadFrame(bytes.NewReader(raw)); !errors.Is(err, frame.ErrEndOfData) {
		t.Fatalf("expected ErrEndOfData, got %v", err)
	}
}

func TestSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		if err := frame.WriteFrame(&buf, int64(i), "s", []byte{byte(i)}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	buf.Write(make([]byte, 40))

	count := 0
	for {
		d, ok := frame.TryReadFrame(&buf)
		if !ok {
			break
		}
		if d.Stamp != int64(count) {
			t.Fatalf("frame %d: unexpected stamp %d", count, d.Stamp)
		}
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 frames, got %d", count)
	}
}
