package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/spatial"
)

// writer accumulates the little-endian body of a foliage file.
type writer struct {
	buf *bytes.Buffer
}

func newWriter(capacity int) *writer {
	return &writer{buf: bytes.NewBuffer(make([]byte, 0, capacity))}
}

func (w *writer) writeByte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) writeInt32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	w.buf.Write(tmp[:])
}

func (w *writer) writeUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf.Write(tmp[:])
}

func (w *writer) writeFloat(v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	w.buf.Write(tmp[:])
}

// writeString writes a 7-bit varint byte length followed by UTF-8 bytes.
func (w *writer) writeString(s string) {
	var tmp [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	w.buf.Write(tmp[:n])
	w.buf.WriteString(s)
}

func (w *writer) writeVec3(v mgl32.Vec3) {
	w.writeFloat(v[0])
	w.writeFloat(v[1])
	w.writeFloat(v[2])
}

// writeQuat writes x, y, z, w.
func (w *writer) writeQuat(q mgl32.Quat) {
	w.writeVec3(q.V)
	w.writeFloat(q.W)
}

// writeBounds writes min then max. Center and size do not survive a float32
// round trip.
func (w *writer) writeBounds(b spatial.AABB) {
	w.writeVec3(b.Min)
	w.writeVec3(b.Max)
}

func (w *writer) writeCell(c spatial.Cell) {
	w.writeInt32(c.X)
	w.writeInt32(c.Y)
	w.writeInt32(c.Z)
}

// writeGUID writes a one byte length followed by the raw id.
func (w *writer) writeGUID(id uuid.UUID) {
	w.writeByte(byte(len(id)))
	w.buf.Write(id[:])
}

func (w *writer) WriteTo(dst io.Writer) (int64, error) {
	return w.buf.WriteTo(dst)
}

// reader walks an in-memory foliage file. Every method fails with a wrapped
// io.ErrUnexpectedEOF when the data runs out.
type reader struct {
	data []byte
	pos  int

	// centerSize reads bounds the version 1 way.
	centerSize bool
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) need(n int, what string) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("reading %s at offset %d: %w", what, r.pos, io.ErrUnexpectedEOF)
	}
	return nil
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readInt32() (int32, error) {
	if err := r.need(4, "int32"); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if err := r.need(8, "uint64"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readFloat() (float32, error) {
	if err := r.need(4, "float"); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

// readCount reads an int32 element count and rejects values that cannot fit
// in the rest of the data given the minimum element size.
func (r *reader) readCount(what string, minSize int) (int, error) {
	n, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative %s count %d at offset %d", what, n, r.pos-4)
	}
	if minSize > 0 && int(n) > r.remaining()/minSize {
		return 0, fmt.Errorf("%s count %d exceeds remaining %d bytes: %w", what, n, r.remaining(), io.ErrUnexpectedEOF)
	}
	return int(n), nil
}

func (r *reader) readString() (string, error) {
	n, read := binary.Uvarint(r.data[r.pos:])
	if read <= 0 {
		return "", fmt.Errorf("reading string length at offset %d: %w", r.pos, io.ErrUnexpectedEOF)
	}
	r.pos += read
	if n > uint64(r.remaining()) {
		return "", fmt.Errorf("reading string of %d bytes at offset %d: %w", n, r.pos, io.ErrUnexpectedEOF)
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) readVec3() (mgl32.Vec3, error) {
	if err := r.need(12, "vector"); err != nil {
		return mgl32.Vec3{}, err
	}
	var v mgl32.Vec3
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.pos:]))
		r.pos += 4
	}
	return v, nil
}

func (r *reader) readQuat() (mgl32.Quat, error) {
	v, err := r.readVec3()
	if err != nil {
		return mgl32.Quat{}, err
	}
	w, err := r.readFloat()
	if err != nil {
		return mgl32.Quat{}, err
	}
	return mgl32.Quat{W: w, V: v}, nil
}

func (r *reader) readBounds() (spatial.AABB, error) {
	a, err := r.readVec3()
	if err != nil {
		return spatial.AABB{}, err
	}
	b, err := r.readVec3()
	if err != nil {
		return spatial.AABB{}, err
	}
	if r.centerSize {
		return spatial.FromCenterSize(a, b), nil
	}
	return spatial.AABB{Min: a, Max: b}, nil
}

func (r *reader) readCell() (spatial.Cell, error) {
	if err := r.need(12, "cell"); err != nil {
		return spatial.Cell{}, err
	}
	c := spatial.Cell{
		X: int32(binary.LittleEndian.Uint32(r.data[r.pos:])),
		Y: int32(binary.LittleEndian.Uint32(r.data[r.pos+4:])),
		Z: int32(binary.LittleEndian.Uint32(r.data[r.pos+8:])),
	}
	r.pos += 12
	return c, nil
}

func (r *reader) readGUID() (uuid.UUID, error) {
	n, err := r.readByte()
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.need(int(n), "guid"); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromBytes(r.data[r.pos : r.pos+int(n)])
	if err != nil {
		return uuid.Nil, fmt.Errorf("reading guid at offset %d: %w", r.pos, err)
	}
	r.pos += int(n)
	return id, nil
}
