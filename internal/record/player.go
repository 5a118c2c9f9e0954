package record

import (
	"io"
	"sort"
	"sync"

	"github.com/banshee-data/fusion.record/internal/payload"
)

// Player walks a record sequentially with seeking, for streaming consumers.
type Player struct {
	rec *Record

	current int
	metas   []FrameMeta // filled on first timestamp seek

	mu sync.Mutex
}

// NewPlayer positions a player at the first frame.
func NewPlayer(r *Record) *Player {
	return &Player{rec: r}
}

// CurrentFrame returns the index the next ReadFrame will return.
func (p *Player) CurrentFrame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Seek moves to frame index i.
func (p *Player) Seek(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.rec.checkIndex(i); err != nil {
		return err
	}
	p.current = i
	return nil
}

// SeekToTimestamp moves to the first frame at or after ts, or to the last
// frame when ts is beyond the record. Frame timestamps must be ascending.
func (p *Player) SeekToTimestamp(ts payload.Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadMetas(); err != nil {
		return err
	}
	n := len(p.metas)
	if n == 0 {
		return p.rec.checkIndex(0)
	}
	i := sort.Search(n, func(i int) bool { return p.metas[i].Timestamp >= ts })
	if i == n {
		i = n - 1
	}
	p.current = i
	return nil
}

func (p *Player) loadMetas() error {
	if p.metas != nil {
		return nil
	}
	metas := make([]FrameMeta, p.rec.FrameCount())
	for i := range metas {
		raw, err := p.rec.RawFrame(i)
		if err != nil {
			return err
		}
		if metas[i], err = DecodeFrameMeta(raw); err != nil {
			return err
		}
	}
	p.metas = metas
	return nil
}

// ReadFrame returns the current frame and advances. It returns io.EOF after
// the last frame.
func (p *Player) ReadFrame() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current >= p.rec.FrameCount() {
		return nil, io.EOF
	}
	f, err := p.rec.Frame(p.current)
	if err != nil {
		return nil, err
	}
	p.current++
	return f, nil
}
