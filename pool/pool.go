package pool

import (
	"fmt"
	"maps"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

const (
	minClassShift = 12
	minClassSize  = 1 << minClassShift
	classCount    = 31 - minClassShift
	maxClassSize  = minClassSize << (classCount - 1)
)

// Pool hands out memory blocks under a global byte budget. Blocks are rounded
// up to power-of-two size classes and recycled after release.
type Pool struct {
	mu  sync.Mutex
	log *log.Logger

	budget        int64
	used          int64
	peak          int64
	usage         map[string]int64
	maxPooledSize int

	classes [classCount]sync.Pool
}

// Block is a memory block allocated from a Pool. Its initial contents are unspecified.
type Block struct {
	pool     *Pool
	tag      string
	size     int
	buf      *[]byte
	class    int
	released atomic.Bool
}

// New creates a pool limited to budget bytes. A budget of zero or less is unlimited.
func New(budget int64, opts ...Option) (*Pool, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	p := &Pool{
		log:           options.Logger,
		budget:        budget,
		usage:         make(map[string]int64),
		maxPooledSize: options.MaxPooledSize,
	}
	for i := range p.classes {
		size := minClassSize << i
		p.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p, nil
}

// Allocate reserves size bytes accounted under tag.
func (p *Pool) Allocate(tag string, size int) (*Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: block size %d", data.ErrInvalid, size)
	}

	p.mu.Lock()
	if p.budget > 0 && p.used+int64(size) > p.budget {
		used := p.used
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s for %q with %s of %s in use", data.ErrOutOfBudget,
			humanize.IBytes(uint64(size)), tag, humanize.IBytes(uint64(used)), humanize.IBytes(uint64(p.budget)))
	}
	p.used += int64(size)
	p.peak = max(p.peak, p.used)
	p.usage[tag] += int64(size)
	p.mu.Unlock()

	block := &Block{pool: p, tag: tag, size: size, class: -1}
	if size <= p.maxPooledSize {
		block.class = classOf(size)
		block.buf = p.classes[block.class].Get().(*[]byte)
	} else {
		buf := make([]byte, size)
		block.buf = &buf
	}

	p.log.Debug("Allocate: %s for %q", humanize.IBytes(uint64(size)), tag)
	return block, nil
}

// Usage returns the bytes currently allocated per tag.
func (p *Pool) Usage() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return maps.Clone(p.usage)
}

// Used returns the bytes currently allocated.
func (p *Pool) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.used
}

// Peak returns the highest number of bytes allocated at once.
func (p *Pool) Peak() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.peak
}

func (p *Pool) Budget() int64 {
	return p.budget
}

func (p *Pool) release(b *Block) {
	p.mu.Lock()
	p.used -= int64(b.size)
	if remaining := p.usage[b.tag] - int64(b.size); remaining > 0 {
		p.usage[b.tag] = remaining
	} else {
		delete(p.usage, b.tag)
	}
	p.mu.Unlock()

	if b.class >= 0 {
		p.classes[b.class].Put(b.buf)
	}
	p.log.Debug("Release: %s for %q", humanize.IBytes(uint64(b.size)), b.tag)
}

// Bytes returns the block memory. It must not be used after Release.
func (b *Block) Bytes() []byte {
	return (*b.buf)[:b.size]
}

func (b *Block) Size() int {
	return b.size
}

func (b *Block) Tag() string {
	return b.tag
}

// Release returns the block to its pool. It is safe to call more than once.
func (b *Block) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.pool.release(b)
}

func classOf(size int) int {
	if size <= minClassSize {
		return 0
	}
	return bits.Len(uint(size-1)) - minClassShift
}
