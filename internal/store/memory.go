package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/util"
)

// InMemoryStore keeps everything in maps. It backs tests and local runs
// where losing state on restart is acceptable.
type InMemoryStore struct {
	mu            sync.RWMutex
	carts         map[string]models.Cart
	products      []models.Product
	nextProductID int64
	orders        map[string]models.Order
	turns         map[string][]models.ConversationTurn
	jobs          map[string]*Job
	outbox        map[string]*OutboxMessage
	inbound       map[string]*time.Time
}

var _ SQLStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		carts:   make(map[string]models.Cart),
		orders:  make(map[string]models.Order),
		turns:   make(map[string][]models.ConversationTurn),
		jobs:    make(map[string]*Job),
		outbox:  make(map[string]*OutboxMessage),
		inbound: make(map[string]*time.Time),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func cloneCart(c models.Cart) models.Cart {
	c.Items = append([]models.CartItem(nil), c.Items...)
	return c
}

func (s *InMemoryStore) GetCart(userID string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, nil
	}
	c = cloneCart(c)
	return &c, nil
}

func (s *InMemoryStore) SaveCart(c models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.carts[c.UserID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.carts[c.UserID] = cloneCart(c)
	return nil
}

func (s *InMemoryStore) DeleteCart(userID string) error {
	s.mu.Lock()
	delete(s.carts, userID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) DeleteCartsIdleSince(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.carts {
		if c.UpdatedAt.Before(cutoff) {
			delete(s.carts, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountCarts() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts), nil
}

func (s *InMemoryStore) ListActiveProducts() ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Product
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) findProduct(match func(models.Product) bool) *models.Product {
	for _, p := range s.products {
		if match(p) {
			p := p
			return &p
		}
	}
	return nil
}

func (s *InMemoryStore) GetProduct(id int64) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findProduct(func(p models.Product) bool { return p.ID == id }), nil
}

func (s *InMemoryStore) FindProductByCode(code string) (*models.Product, error) {
	if code == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findProduct(func(p models.Product) bool { return p.Code == code }), nil
}

func (s *InMemoryStore) FindProductByName(name string) (*models.Product, error) {
	name = strings.TrimSpace(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findProduct(func(p models.Product) bool { return strings.EqualFold(p.Name, name) }), nil
}

func (s *InMemoryStore) CreateProduct(p models.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Code != "" && s.findProduct(func(q models.Product) bool { return q.Code == p.Code }) != nil {
		return 0, fmt.Errorf("create product %q failed: code %q already exists", p.Name, p.Code)
	}
	if p.Unit == "" {
		p.Unit = models.DefaultUnit
	}
	s.nextProductID++
	p.ID = s.nextProductID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.products = append(s.products, p)
	return p.ID, nil
}

func (s *InMemoryStore) UpdateProduct(p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == p.ID {
			if p.Unit == "" {
				p.Unit = models.DefaultUnit
			}
			p.CreatedAt = s.products[i].CreatedAt
			p.UpdatedAt = time.Now()
			s.products[i] = p
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) DeactivateProduct(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == id {
			s.products[i].Active = false
			s.products[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) CreateOrder(o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("create order %s failed: duplicate id", o.ID)
	}
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Items = append([]models.OrderItem(nil), o.Items...)
	s.orders[o.ID] = o
	return nil
}

func (s *InMemoryStore) GetOrder(id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *InMemoryStore) ListOrders() ([]models.Order, error) {
	s.mu.RLock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) UpdateOrderStatus(id string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *InMemoryStore) AppendTurn(userID string, turn models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.turns[userID] = append(s.turns[userID], turn)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) RecentTurns(userID string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.turns[userID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]models.ConversationTurn(nil), all...), nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = nil
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	now := time.Now()
	s.mu.Lock()
	if _, ok := s.inbound[messageID]; ok {
		s.inbound[messageID] = &now
	}
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && (j.Status == JobStatusQueued || j.Status == JobStatusRunning) {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := &Job{
		ID:          util.GenerateRandomID("job_", 32),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultJobMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		lockedAt := now
		j.Status = JobStatusRunning
		j.LockedAt = &lockedAt
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("fail job lookup failed: %w", ErrNotFound)
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
		return nil
	}
	j.Status = JobStatusQueued
	j.RunAt = nextRunAt
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && (j.Status == JobStatusQueued || j.Status == JobStatusRunning) {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(recipientID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:          util.GenerateRandomID("outbox_", 32),
		RecipientID: recipientID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		lockedAt := now
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("fail outbox message failed: %w", ErrNotFound)
	}
	next := nextAttemptAt
	m.Status = OutboxStatusQueued
	m.Attempts++
	m.LastError = errMsg
	m.NextAttemptAt = &next
	m.LockedAt = nil
	m.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of every outbox message, oldest first.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Jobs returns a snapshot of every job, earliest run first.
func (s *InMemoryStore) Jobs() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
