package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind tags the payload of a frame.
type Kind byte

const (
	// KindWork carries a band with halo rows from coordinator to worker.
	KindWork Kind = 1
	// KindResult carries a computed band and its max change back.
	KindResult Kind = 2
	// KindTerminate tells a worker that no more work follows.
	KindTerminate Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindWork:
		return "work"
	case KindResult:
		return "result"
	case KindTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ErrMalformed is returned for payloads that cannot be decoded.
// It wraps ErrTransport: an undecodable payload is treated like a lost
// connection.
var ErrMalformed = fmt.Errorf("%w: malformed payload", ErrTransport)

// ErrInvalidMessage is returned by Encode for messages whose shape is
// inconsistent, such as ragged rows.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one of *WorkUnit, *ResultUnit or Terminate.
type Message interface {
	Kind() Kind
	sealed()
}

// WorkUnit is a band of EndRow-StartRow+2 rows (the owned rows plus one
// halo row above and one below), each N values wide.
type WorkUnit struct {
	Band     [][]float64 // Rows StartRow-1 .. EndRow inclusive
	StartRow int         // First owned row
	EndRow   int         // One past the last owned row
	N        int         // Row width
}

// ResultUnit is the computed band for the owned rows of a WorkUnit and the
// largest absolute change among its cells.
type ResultUnit struct {
	Rows      [][]float64
	MaxChange float64
}

// Terminate ends the exchange on a connection.
type Terminate struct{}

func (*WorkUnit) Kind() Kind   { return KindWork }
func (*ResultUnit) Kind() Kind { return KindResult }
func (Terminate) Kind() Kind   { return KindTerminate }

func (*WorkUnit) sealed()   {}
func (*ResultUnit) sealed() {}
func (Terminate) sealed()   {}

// Encode serializes m into a frame payload. The first byte is the Kind,
// followed by big-endian fields; floats are written as their IEEE-754 bits
// so values survive the trip unchanged.
//
//	work:      kind | start u32 | end u32 | n u32 | rows u32 | rows*n f64
//	result:    kind | max f64 | rows u32 | n u32 | rows*n f64
//	terminate: kind
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *WorkUnit:
		if msg.StartRow < 1 || msg.EndRow < msg.StartRow || msg.N < 0 {
			return nil, fmt.Errorf("%w: work rows [%d,%d) width %d", ErrInvalidMessage, msg.StartRow, msg.EndRow, msg.N)
		}
		if want := msg.EndRow - msg.StartRow + 2; len(msg.Band) != want {
			return nil, fmt.Errorf("%w: work band has %d rows, want %d", ErrInvalidMessage, len(msg.Band), want)
		}
		if err := checkWidth(msg.Band, msg.N); err != nil {
			return nil, err
		}
		buf := make([]byte, 0, 1+16+8*len(msg.Band)*msg.N)
		buf = append(buf, byte(KindWork))
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.StartRow))
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.EndRow))
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.N))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Band)))
		return appendRows(buf, msg.Band), nil

	case *ResultUnit:
		n := 0
		if len(msg.Rows) > 0 {
			n = len(msg.Rows[0])
		}
		if err := checkWidth(msg.Rows, n); err != nil {
			return nil, err
		}
		buf := make([]byte, 0, 1+16+8*len(msg.Rows)*n)
		buf = append(buf, byte(KindResult))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(msg.MaxChange))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Rows)))
		buf = binary.BigEndian.AppendUint32(buf, uint32(n))
		return appendRows(buf, msg.Rows), nil

	case Terminate, *Terminate:
		return []byte{byte(KindTerminate)}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, m)
	}
}

// Decode parses a frame payload produced by Encode.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	d := decoder{buf: payload[1:]}

	var msg Message
	switch kind := Kind(payload[0]); kind {
	case KindWork:
		start, end, n, rows := d.uint32(), d.uint32(), d.uint32(), d.uint32()
		band := d.rows(rows, n)
		if d.err != nil {
			return nil, d.err
		}
		if start < 1 || end < start || uint64(rows) != uint64(end-start)+2 {
			return nil, fmt.Errorf("%w: work rows [%d,%d) with %d band rows", ErrMalformed, start, end, rows)
		}
		msg = &WorkUnit{Band: band, StartRow: int(start), EndRow: int(end), N: int(n)}

	case KindResult:
		maxChange := d.float64()
		rows, n := d.uint32(), d.uint32()
		out := d.rows(rows, n)
		if d.err != nil {
			return nil, d.err
		}
		msg = &ResultUnit{Rows: out, MaxChange: maxChange}

	case KindTerminate:
		msg = Terminate{}

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, byte(kind))
	}

	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformed, len(d.buf), msg.Kind())
	}
	return msg, nil
}

func checkWidth(rows [][]float64, n int) error {
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidMessage, i, len(row), n)
		}
	}
	return nil
}

func appendRows(buf []byte, rows [][]float64) []byte {
	for _, row := range rows {
		for _, v := range row {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf
}

// decoder consumes big-endian fields and records the first short read.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(size int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < size {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, size, len(d.buf))
		return nil
	}
	b := d.buf[:size]
	d.buf = d.buf[size:]
	return b
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) float64() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d *decoder) rows(rows, n uint32) [][]float64 {
	if d.err != nil {
		return nil
	}
	if need := uint64(rows) * uint64(n) * 8; need > uint64(len(d.buf)) {
		d.err = fmt.Errorf("%w: %dx%d values need %d bytes, have %d", ErrMalformed, rows, n, need, len(d.buf))
		return nil
	}
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, n)
		for j := range row {
			row[j] = d.float64()
		}
		out[i] = row
	}
	return out
}
