package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

// Memory is an in-process intent store.
type Memory struct {
	mu      sync.Mutex
	intents map[string]intent.PaymentIntent
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{intents: make(map[string]intent.PaymentIntent)}
}

func (m *Memory) Get(_ context.Context, code string) (*intent.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(it), nil
}

func (m *Memory) Merge(_ context.Context, code string, p intent.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[code]
	if !ok {
		now := time.Now().UTC()
		it = intent.PaymentIntent{Code: code, CreatedAt: now, UpdatedAt: now}
	}
	m.apply(&it, p)
	m.intents[code] = it
	return nil
}

func (m *Memory) CompareAndMerge(_ context.Context, code string, expect intent.Status, p intent.Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.intents[code]
	if !ok || it.Status != expect {
		return false, nil
	}
	m.apply(&it, p)
	m.intents[code] = it
	return true, nil
}

func (m *Memory) ListByStatus(_ context.Context, status intent.Status) ([]intent.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []intent.PaymentIntent
	for _, it := range m.intents {
		if it.Status == status {
			out = append(out, *cloneIntent(it))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Memory) apply(it *intent.PaymentIntent, p intent.Patch) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	it.Apply(p)
}

func cloneIntent(it intent.PaymentIntent) *intent.PaymentIntent {
	if it.LastError != nil {
		f := *it.LastError
		it.LastError = &f
	}
	if it.ConfirmedAt != nil {
		t := *it.ConfirmedAt
		it.ConfirmedAt = &t
	}
	return &it
}
