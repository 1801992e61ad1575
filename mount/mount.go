package mount

import (
	"strings"
	"sync"
	"time"

	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
)

// Pack is an archive mounted into the virtual namespace at its binding root.
type Pack struct {
	mu sync.RWMutex

	Name        string
	BindingRoot string
	Flags       archive.Flags
	MountTime   time.Time
	Archive     *archive.Archive

	seq        uint64
	bindingKey string
	accessible bool
	handles    int
}

func newPack(name, bindingRoot string, flags archive.Flags, a *archive.Archive, seq uint64) *Pack {
	return &Pack{
		Name:        name,
		BindingRoot: bindingRoot,
		Flags:       flags,
		MountTime:   time.Now(),
		Archive:     a,
		seq:         seq,
		bindingKey:  strings.ToLower(strings.TrimSuffix(bindingRoot, "/")),
		accessible:  true,
	}
}

// Override reports whether the pack was mounted with archive.FlagOverridePak.
func (p *Pack) Override() bool {
	return p.Flags&archive.FlagOverridePak != 0
}

// Accessible reports whether lookups may use the pack.
func (p *Pack) Accessible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.accessible && p.Flags&archive.FlagDisabled == 0
}

func (p *Pack) setAccessible(accessible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accessible = accessible
}

// Acquire registers an open file handle served by this pack.
func (p *Pack) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.Archive.Retain(); err != nil {
		return err
	}
	p.handles++
	return nil
}

// Release drops a handle registered with Acquire.
func (p *Pack) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handles == 0 {
		return data.ErrInvalid
	}
	p.handles--
	return p.Archive.Release()
}

// Handles returns the number of open file handles served by this pack.
func (p *Pack) Handles() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.handles
}

// relative returns the path below the binding root; key must be lower case.
func (p *Pack) relative(key string) (string, bool) {
	if !data.HasPathPrefix(key, p.bindingKey) {
		return "", false
	}
	rel := data.ToRelativePath(key, p.bindingKey)
	return rel, rel != ""
}
