package engine

import (
	"sync"

	"github.com/pkg/errors"
)

// table maps correlation tags to in-flight requests. register and resolve run
// from different goroutines (submitters and the completion drainer), a lookup
// never blocks an unrelated registration for longer than the map access.
type table struct {
	mu   sync.Mutex
	reqs map[uint64]*request
}

func newTable(sizeHint int) *table {
	return &table{reqs: make(map[uint64]*request, sizeHint)}
}

func (t *table) register(tag uint64, req *request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.reqs[tag]; ok {
		return errors.Wrapf(ErrDuplicateTag, "tag %d", tag)
	}
	t.reqs[tag] = req
	return nil
}

// resolve removes and returns the request a completion belongs to. An unknown
// tag means the kernel reported a tag that was never submitted, callers treat
// that as fatal.
func (t *table) resolve(tag uint64) (*request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.reqs[tag]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTag, "tag %d", tag)
	}
	delete(t.reqs, tag)
	return req, nil
}

// remove drops a registration that never reached the kernel.
func (t *table) remove(tag uint64) {
	t.mu.Lock()
	delete(t.reqs, tag)
	t.mu.Unlock()
}

// drain removes and returns every remaining request, used during shutdown.
func (t *table) drain() []*request {
	t.mu.Lock()
	defer t.mu.Unlock()
	reqs := make([]*request, 0, len(t.reqs))
	for tag, req := range t.reqs {
		reqs = append(reqs, req)
		delete(t.reqs, tag)
	}
	return reqs
}

func (t *table) tags() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tags := make([]uint64, 0, len(t.reqs))
	for tag := range t.reqs {
		tags = append(tags, tag)
	}
	return tags
}

func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}
