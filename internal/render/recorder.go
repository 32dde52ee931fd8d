package render

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/spatial"
)

// ErrBufferUnavailable is returned by a Recorder told to fail allocations.
var ErrBufferUnavailable = errors.New("gpu buffer unavailable")

// DrawKind tells the recorded draw entry points apart.
type DrawKind uint8

const (
	KindInstanced DrawKind = iota
	KindMesh
	KindIndirect
)

func (k DrawKind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindIndirect:
		return "indirect"
	default:
		return "instanced"
	}
}

// Draw is one recorded draw call.
type Draw struct {
	Kind   DrawKind
	Call   DrawCall
	Count  int
	Bounds spatial.AABB // indirect only
	Args   [5]uint32    // indirect only
}

// Recorder is a Device that keeps what it was asked to draw. It backs the
// headless viewer and the renderer tests.
type Recorder struct {
	mu sync.Mutex

	draws     []Draw
	allocated int
	released  int

	// FailBuffers makes every buffer allocation fail.
	FailBuffers bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) DrawInstanced(call DrawCall, matrices []mgl32.Mat4) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = append(r.draws, Draw{Kind: KindInstanced, Call: call, Count: len(matrices)})
}

func (r *Recorder) DrawMesh(call DrawCall, _ mgl32.Mat4) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = append(r.draws, Draw{Kind: KindMesh, Call: call, Count: 1})
}

func (r *Recorder) DrawIndirect(call DrawCall, bounds spatial.AABB, args ArgsBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := Draw{Kind: KindIndirect, Call: call, Bounds: bounds}
	if a, ok := args.(*recordedArgs); ok {
		d.Args = a.args
		d.Count = int(a.args[1])
	}
	r.draws = append(r.draws, d)
}

func (r *Recorder) NewInstanceBuffer(matrices []mgl32.Mat4) (Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailBuffers {
		return nil, ErrBufferUnavailable
	}
	r.allocated++
	return &recordedBuffer{owner: r, n: len(matrices)}, nil
}

func (r *Recorder) NewArgsBuffer() (ArgsBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailBuffers {
		return nil, ErrBufferUnavailable
	}
	r.allocated++
	return &recordedArgs{recordedBuffer: recordedBuffer{owner: r}}, nil
}

// Draws returns a copy of the recorded draws.
func (r *Recorder) Draws() []Draw {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Draw, len(r.draws))
	copy(out, r.draws)
	return out
}

// Live returns the number of allocated buffers not yet released.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated - r.released
}

// Allocated returns the number of buffers ever allocated.
func (r *Recorder) Allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated
}

// Reset forgets recorded draws. Buffer accounting is kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draws = r.draws[:0]
}

func (r *Recorder) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
}

type recordedBuffer struct {
	owner    *Recorder
	n        int
	released bool
}

func (b *recordedBuffer) Len() int { return b.n }

func (b *recordedBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.owner.release()
}

type recordedArgs struct {
	recordedBuffer
	args [5]uint32
}

func (a *recordedArgs) SetArgs(args [5]uint32) {
	a.args = args
}
