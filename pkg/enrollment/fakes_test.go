package enrollment

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

type memRepo struct {
	mu      sync.Mutex
	byID    map[string]*Enrollment
	order   []string
	updates int
	failOn  string
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]*Enrollment)}
}

func (r *memRepo) CreateEnrollment(_ context.Context, e *Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Pending() && existing.ContactID == e.ContactID && existing.SequenceID == e.SequenceID {
			return domain.NewConflictError("contact already enrolled in this sequence")
		}
	}
	r.byID[e.ID] = e.Clone()
	r.order = append(r.order, e.ID)
	return nil
}

func (r *memRepo) UpdateEnrollment(_ context.Context, e *Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.SequenceID == r.failOn {
		return errors.New("write failed")
	}
	stored, ok := r.byID[e.ID]
	if !ok {
		return domain.NewNotFoundError("enrollment")
	}
	if !stored.Pending() {
		return domain.NewConflictError("enrollment is no longer pending")
	}
	r.updates++
	r.byID[e.ID] = e.Clone()
	return nil
}

func (r *memRepo) GetEnrollment(_ context.Context, id string) (*Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("enrollment")
	}
	return e.Clone(), nil
}

func (r *memRepo) FindPending(_ context.Context, contactID, sequenceID string) (*Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.Pending() && e.ContactID == contactID && e.SequenceID == sequenceID {
			return e.Clone(), nil
		}
	}
	return nil, domain.NewNotFoundError("enrollment")
}

func (r *memRepo) list(match func(*Enrollment) bool) []*Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Enrollment
	for _, id := range r.order {
		if e := r.byID[id]; match(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (r *memRepo) ListPending(_ context.Context) ([]*Enrollment, error) {
	return r.list(func(e *Enrollment) bool { return e.Pending() }), nil
}

func (r *memRepo) ListByContact(_ context.Context, contactID string) ([]*Enrollment, error) {
	return r.list(func(e *Enrollment) bool { return e.ContactID == contactID }), nil
}

func (r *memRepo) ListBySequence(_ context.Context, sequenceID string) ([]*Enrollment, error) {
	return r.list(func(e *Enrollment) bool { return e.SequenceID == sequenceID }), nil
}

func (r *memRepo) CountPendingBySequence(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, e := range r.list(func(e *Enrollment) bool { return e.Pending() }) {
		counts[e.SequenceID]++
	}
	return counts, nil
}

type memSequences struct {
	byID map[string]*sequence.Sequence
}

func newMemSequences(seqs ...*sequence.Sequence) *memSequences {
	m := &memSequences{byID: make(map[string]*sequence.Sequence)}
	for _, s := range seqs {
		m.byID[s.ID] = s
	}
	return m
}

func (m *memSequences) GetSequence(_ context.Context, id string) (*sequence.Sequence, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("sequence")
	}
	return s.Clone(), nil
}

func (m *memSequences) ListSequences(_ context.Context) ([]*sequence.Sequence, error) {
	out := make([]*sequence.Sequence, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCache struct {
	counts      map[string]int
	gen         int64
	gets        int
	invalidated int
	// beforeSet runs between the miss and the write, like a concurrent writer
	beforeSet func()
}

func (c *memCache) GetCounts(context.Context) (map[string]int, int64, bool, error) {
	c.gets++
	if c.counts == nil {
		return nil, c.gen, false, nil
	}
	return c.counts, c.gen, true, nil
}

func (c *memCache) SetCounts(_ context.Context, gen int64, counts map[string]int) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	if gen != c.gen {
		return nil
	}
	c.counts = counts
	return nil
}

func (c *memCache) Invalidate(context.Context) error {
	c.invalidated++
	c.gen++
	c.counts = nil
	return nil
}

type countingObserver struct {
	created   map[string]int
	withdrawn int
	completed int
	fired     map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{created: map[string]int{}, fired: map[string]int{}}
}

func (o *countingObserver) EnrollmentCreated(source string) { o.created[source]++ }
func (o *countingObserver) EnrollmentWithdrawn()            { o.withdrawn++ }
func (o *countingObserver) EnrollmentCompleted()            { o.completed++ }
func (o *countingObserver) StepFired(actionType string)     { o.fired[actionType]++ }
