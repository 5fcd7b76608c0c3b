package frame

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
)

// frame := stamp(int64 LE) | name(varint len + UTF-8) | payload_len(varint) | payload | sha1(20)

const (
	HashSize = sha1.Size

	stampSize     = 8
	maxVarintLen  = 5
	maxLengthSpan = 1<<31 - 1
)

// ErrEndOfData is returned when the source ends before a complete frame was read.
var ErrEndOfData = errors.New("end of frame data")

// Encoded is the serialized body of a frame and its SHA-1 hash.
type Encoded struct {
	Data []byte
	Hash [HashSize]byte
}

// Len returns the on-disk size of the frame including its hash.
func (e Encoded) Len() int {
	return len(e.Data) + HashSize
}

// Decoded is a frame read back from a segment.
type Decoded struct {
	Stamp   int64
	Name    string
	Payload []byte
}

// IsEmpty reports the all-zero padding frame.
func (d Decoded) IsEmpty() bool {
	return len(d.Payload) == 0 && d.Stamp == 0 && d.Name == ""
}

// Size returns the encoded size of a frame, hash included.
func Size(name string, payload []byte) int {
	return stampSize +
		uvarintLen(uint64(len(name))) + len(name) +
		uvarintLen(uint64(len(payload))) + len(payload) +
		HashSize
}

func Encode(stamp int64, name string, payload []byte) Encoded {
	buf := make([]byte, 0, Size(name, payload)-HashSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stamp))
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	buf = append(buf, name...)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return Encoded{Data: buf, Hash: sha1.Sum(buf)}
}

func WriteFrame(w io.Writer, stamp int64, name string, payload []byte) error {
	enc := Encode(stamp, name, payload)
	if _, err := w.Write(enc.Data); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}
	if _, err := w.Write(enc.Hash[:]); err != nil {
		return fmt.Errorf("write frame hash: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. The hash is recomputed over the exact bytes consumed.
// The all-zero padding frame is returned without error; check IsEmpty.
func ReadFrame(r io.Reader) (Decoded, error) {
	h := sha1.New()
	src := io.TeeReader(r, h)

	var stampBuf [stampSize]byte
	if _, err := io.ReadFull(src, stampBuf[:]); err != nil {
		return Decoded{}, endOfData(err)
	}
	stamp := int64(binary.LittleEndian.Uint64(stampBuf[:]))

	nameLen, err := readLength(src)
	if err != nil {
		return Decoded{}, err
	}
	name, err := readBytes(src, nameLen)
	if err != nil {
		return Decoded{}, err
	}

	payloadLen, err := readLength(src)
	if err != nil {
		return Decoded{}, err
	}
	payload, err := readBytes(src, payloadLen)
	if err != nil {
		return Decoded{}, err
	}

	actual := h.Sum(nil)

	var expected [HashSize]byte
	if _, err := io.ReadFull(r, expected[:]); err != nil {
		return Decoded{}, endOfData(err)
	}

	decoded := Decoded{Stamp: stamp, Name: string(name), Payload: payload}
	if decoded.IsEmpty() && expected == [HashSize]byte{} {
		return decoded, nil
	}
	if !bytes.Equal(actual, expected[:]) {
		return Decoded{}, &types.IntegrityError{Detail: fmt.Sprintf("frame %q stamp %d", decoded.Name, stamp)}
	}
	return decoded, nil
}

// TryReadFrame returns false at end of data, on padding and on corruption.
// Corruption is logged and swallowed so that replay can stop cleanly.
func TryReadFrame(r io.Reader) (Decoded, bool) {
	res := Decode(r)
	switch res.Outcome {
	case OutcomeFrame:
		return res.Frame, true
	case OutcomeCorrupt:
		util.Warn("frame: stopping at unreadable frame: %v", res.Err)
	}
	return Decoded{}, false
}

func endOfData(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEndOfData
	}
	return err
}

// readLength reads a 7-bit encoded int32 length prefix.
func readLength(r io.Reader) (int, error) {
	var (
		b     [1]byte
		value uint64
		shift uint
	)
	for i := 0; i < maxVarintLen; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, endOfData(err)
		}
		value |= uint64(b[0]&0x7f) << shift
		if b[0] < 0x80 {
			if value > maxLengthSpan {
				return 0, fmt.Errorf("frame: length prefix %d out of range", value)
			}
			return int(value), nil
		}
		shift += 7
	}
	return 0, errors.New("frame: length prefix too long")
}

// readBytes grows its buffer with the data actually present, so a corrupt
// length prefix cannot force a huge allocation.
func readBytes(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) && copied < int64(n) {
			return nil, ErrEndOfData
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
