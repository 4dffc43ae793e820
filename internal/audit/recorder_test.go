package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ListResult{Logs: append([]Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func TestRecorder_CloseFlushesQueue(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo, nil)

	for range 10 {
		r.Record(ServiceCall(SourceAPI, "light", "turn_on", "light.a", nil, nil))
	}
	r.Close()
	r.Close()

	if r.Written() != 10 || r.Dropped() != 0 {
		t.Errorf("Written() = %d, Dropped() = %d; want 10, 0", r.Written(), r.Dropped())
	}
	res, err := r.List(context.Background(), Filter{})
	if err != nil || res.Total != 10 {
		t.Errorf("List() = %+v, %v", res, err)
	}

	r.Record(ServiceCall(SourceAPI, "light", "turn_on", "light.a", nil, nil))
	if r.Dropped() != 1 {
		t.Errorf("Dropped() after Close = %d, want 1", r.Dropped())
	}
}

func TestRecorder_WriteFailureCountsAsDropped(t *testing.T) {
	r := NewRecorder(&memRepo{err: errors.New("disk full")}, nil)
	r.Record(ServiceCall(SourceMQTT, "switch", "toggle", "", nil, nil))
	r.Close()

	if r.Written() != 0 || r.Dropped() != 1 {
		t.Errorf("Written() = %d, Dropped() = %d; want 0, 1", r.Written(), r.Dropped())
	}
}
