// Package memory is an in-process implementation of the order store, used by
// tests and by STORE=memory for local runs without Postgres.
//
// Transactions stage their writes and apply them at commit after re-checking
// every version they read, so concurrent units of work conflict the same way
// they do against Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/outbox"
	"github.com/google/uuid"
)

// Store holds committed state.
type Store struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	variants map[uuid.UUID]domain.ProductVariant
	users    map[uuid.UUID]domain.UserSummary
	entries  []*outbox.Entry
	receipts map[uuid.UUID]map[string]bool

	now         func() time.Time
	commitFails []error
}

func NewStore() *Store {
	return &Store{
		orders:   make(map[uuid.UUID]*domain.Order),
		variants: make(map[uuid.UUID]domain.ProductVariant),
		users:    make(map[uuid.UUID]domain.UserSummary),
		receipts: make(map[uuid.UUID]map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for outbox scheduling.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNextCommit makes the next commit return err and roll back.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFails = append(s.commitFails, err)
}

// PutVariant stores a variant, replacing any existing one.
func (s *Store) PutVariant(v domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Version == 0 {
		v.Version = 1
	}
	s.variants[v.ID] = v
}

// DeleteVariant removes a variant, as when a product is withdrawn.
func (s *Store) DeleteVariant(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variants, id)
}

// Variant returns the committed variant.
func (s *Store) Variant(id uuid.UUID) (domain.ProductVariant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	return v, ok
}

// PutUser stores a user summary.
func (s *Store) PutUser(u domain.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Order returns a copy of the committed order.
func (s *Store) Order(id uuid.UUID) (*domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Entries returns a copy of every outbox entry in creation order.
func (s *Store) Entries() []outbox.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Do runs fn in a staged transaction and commits it atomically.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		store:           s,
		orders:          make(map[uuid.UUID]*domain.Order),
		created:         make(map[uuid.UUID]bool),
		orderVersions:   make(map[uuid.UUID]int64),
		variants:        make(map[uuid.UUID]domain.ProductVariant),
		variantVersions: make(map[uuid.UUID]int64),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitFails) > 0 {
		err := s.commitFails[0]
		s.commitFails = s.commitFails[1:]
		return err
	}

	for id := range t.orders {
		cur, exists := s.orders[id]
		if t.created[id] {
			if exists {
				return domain.Conflict("order.create", "Order already exists")
			}
			continue
		}
		if !exists || cur.Version != t.orderVersions[id] {
			return domain.Conflict("order.update", "Order was modified by another request")
		}
	}
	for id := range t.variants {
		cur, exists := s.variants[id]
		if !exists || cur.Version != t.variantVersions[id] {
			return domain.Conflict("variant.update", "Variant was modified by another request")
		}
	}

	for id, o := range t.orders {
		s.orders[id] = o.Clone()
	}
	for id, v := range t.variants {
		s.variants[id] = v
	}
	now := s.now()
	for i := range t.entries {
		e := t.entries[i]
		e.NextAttemptAt = now
		s.entries = append(s.entries, &e)
	}
	return nil
}

type tx struct {
	store           *Store
	orders          map[uuid.UUID]*domain.Order
	created         map[uuid.UUID]bool
	orderVersions   map[uuid.UUID]int64
	variants        map[uuid.UUID]domain.ProductVariant
	variantVersions map[uuid.UUID]int64
	entries         []outbox.Entry
}

func (t *tx) Orders() domain.OrderRepository     { return orderRepo{t} }
func (t *tx) Variants() domain.VariantRepository { return variantRepo{t} }
func (t *tx) Outbox() domain.OutboxWriter        { return outboxWriter{t} }

type orderRepo struct{ t *tx }

func (r orderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if o, ok := r.t.orders[id]; ok {
		return o.Clone(), nil
	}
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound.WithOp("order.get")
	}
	return o.Clone(), nil
}

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	s := r.t.store
	s.mu.Lock()
	_, exists := s.orders[o.ID]
	s.mu.Unlock()
	if exists || r.t.orders[o.ID] != nil {
		return domain.Conflict("order.create", "Order already exists")
	}

	o.Version = 1
	r.t.orders[o.ID] = o.Clone()
	r.t.created[o.ID] = true
	return nil
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	if staged, ok := r.t.orders[o.ID]; ok {
		if staged.Version != o.Version {
			return domain.Conflict("order.update", "Order was modified by another request")
		}
		o.Version++
		r.t.orders[o.ID] = o.Clone()
		return nil
	}

	s := r.t.store
	s.mu.Lock()
	cur, ok := s.orders[o.ID]
	var current int64
	if ok {
		current = cur.Version
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrOrderNotFound.WithOp("order.update")
	}
	if current != o.Version {
		return domain.Conflict("order.update", "Order was modified by another request")
	}

	r.t.orderVersions[o.ID] = o.Version
	o.Version++
	r.t.orders[o.ID] = o.Clone()
	return nil
}

type variantRepo struct{ t *tx }

func (r variantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProductVariant, error) {
	if v, ok := r.t.variants[id]; ok {
		return &v, nil
	}
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, domain.ErrVariantNotFound.WithOp("variant.get")
	}
	return &v, nil
}

func (r variantRepo) Update(ctx context.Context, v *domain.ProductVariant) error {
	if staged, ok := r.t.variants[v.ID]; ok {
		if staged.Version != v.Version {
			return domain.Conflict("variant.update", "Variant was modified by another request")
		}
		v.Version++
		r.t.variants[v.ID] = *v
		return nil
	}

	s := r.t.store
	s.mu.Lock()
	cur, ok := s.variants[v.ID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrVariantNotFound.WithOp("variant.update")
	}
	if cur.Version != v.Version {
		return domain.Conflict("variant.update", "Variant was modified by another request")
	}

	r.t.variantVersions[v.ID] = v.Version
	v.Version++
	r.t.variants[v.ID] = *v
	return nil
}

type outboxWriter struct{ t *tx }

func (w outboxWriter) Append(ctx context.Context, events []domain.Event) error {
	entries, err := outbox.NewEntries(events)
	if err != nil {
		return domain.Internal(err, "outbox.append", "Failed to encode events")
	}
	w.t.entries = append(w.t.entries, entries...)
	return nil
}

// =============================================================================
// READ MODELS
// =============================================================================

func (s *Store) GetDetailByID(ctx context.Context, id uuid.UUID) (*domain.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound.WithOp("order.get_detail")
	}
	return domain.NewOrderDetail(o), nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound.WithOp("user.get")
	}
	return &u, nil
}

// =============================================================================
// OUTBOX STORE
// =============================================================================

func (s *Store) Claim(ctx context.Context, owner string, limit int, lease time.Duration) ([]outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	blocked := make(map[uuid.UUID]bool)
	var out []outbox.Entry
	for _, e := range s.entries {
		if len(out) >= limit {
			break
		}
		if e.DeliveredAt != nil || e.DeadAt != nil {
			continue
		}
		if blocked[e.AggregateID] {
			continue
		}
		blocked[e.AggregateID] = true

		if e.NextAttemptAt.After(now) {
			continue
		}
		if e.ClaimedUntil != nil && e.ClaimedUntil.After(now) {
			continue
		}

		until := now.Add(lease)
		e.Attempts++
		e.ClaimedBy = owner
		e.ClaimedUntil = &until
		out = append(out, *e)
	}
	return out, nil
}

func (s *Store) find(eventID uuid.UUID) *outbox.Entry {
	for _, e := range s.entries {
		if e.EventID == eventID {
			return e
		}
	}
	return nil
}

func (s *Store) Receipts(ctx context.Context, eventID uuid.UUID) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.receipts[eventID]))
	for name := range s.receipts[eventID] {
		out[name] = true
	}
	return out, nil
}

func (s *Store) RecordReceipt(ctx context.Context, eventID uuid.UUID, handler string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipts[eventID] == nil {
		s.receipts[eventID] = make(map[string]bool)
	}
	s.receipts[eventID][handler] = true
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return domain.NotFound("outbox.mark_delivered", "outbox entry", eventID.String())
	}
	e.DeliveredAt = &at
	e.ClaimedBy = ""
	e.ClaimedUntil = nil
	e.LastError = ""
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, eventID uuid.UUID, lastErr string, nextAttempt time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return domain.NotFound("outbox.mark_failed", "outbox entry", eventID.String())
	}
	e.LastError = lastErr
	e.NextAttemptAt = nextAttempt
	e.ClaimedBy = ""
	e.ClaimedUntil = nil
	if dead {
		now := s.now()
		e.DeadAt = &now
	}
	return nil
}

func (s *Store) PurgeDelivered(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.DeliveredAt != nil && e.DeliveredAt.Before(before) {
			delete(s.receipts, e.EventID)
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}
