package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

// MemoryStore keeps everything in process. Scope and row locks are keyed mutexes held for the
// lifetime of a transaction, so it gives the same atomicity as the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	appts     map[string]model.Appointment
	ledger    map[string]model.LedgerEntry // by appointment id
	customers map[string]model.Customer
	loyalty   []model.LoyaltyGrant
	idem      map[string]string // business|key -> appointment id
	locks     *keyedLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appts:     make(map[string]model.Appointment),
		ledger:    make(map[string]model.LedgerEntry),
		customers: make(map[string]model.Customer),
		idem:      make(map[string]string),
		locks:     &keyedLocks{m: make(map[string]chan struct{})},
	}
}

func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		s:         s,
		writes:    make(map[string]model.Appointment),
		customers: make(map[string]model.Customer),
		idem:      make(map[string]string),
	}, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment", id)
	}
	return appt.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.BusinessID != f.BusinessID {
			continue
		}
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		if f.StaffID != "" && a.StaffID != f.StaffID {
			continue
		}
		if f.CustomerID != "" && a.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	sortBySchedule(out)
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func (s *MemoryStore) ListActiveByDate(_ context.Context, businessID, date string) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeByDateLocked(businessID, date, nil), nil
}

// ListActiveFrom mirrors PostgresStore.ListActiveFrom.
func (s *MemoryStore) ListActiveFrom(_ context.Context, fromDate string) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Status.Active() && a.Date >= fromDate {
			out = append(out, a.Clone())
		}
	}
	sortBySchedule(out)
	return out, nil
}

// Put stores an appointment directly, bypassing locks. Intended for seeding.
func (s *MemoryStore) Put(appt model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[appt.ID] = appt.Clone()
}

func (s *MemoryStore) LedgerEntries(appointmentID string) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.ledger[appointmentID]; ok {
		return []model.LedgerEntry{e}
	}
	return nil
}

func (s *MemoryStore) Customer(id string) (model.Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	return c, ok
}

func (s *MemoryStore) PutCustomer(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *MemoryStore) LoyaltyGrants() []model.LoyaltyGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.LoyaltyGrant(nil), s.loyalty...)
}

func (s *MemoryStore) activeByDateLocked(businessID, date string, overlay map[string]model.Appointment) []model.Appointment {
	var out []model.Appointment
	seen := make(map[string]bool)
	for id, a := range overlay {
		seen[id] = true
		if a.BusinessID == businessID && a.Date == date && a.Status.Active() {
			out = append(out, a.Clone())
		}
	}
	for id, a := range s.appts {
		if seen[id] {
			continue
		}
		if a.BusinessID == businessID && a.Date == date && a.Status.Active() {
			out = append(out, a.Clone())
		}
	}
	sortBySchedule(out)
	return out
}

func sortBySchedule(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		if appts[i].StartTime != appts[j].StartTime {
			return appts[i].StartTime < appts[j].StartTime
		}
		return appts[i].ID < appts[j].ID
	})
}

type visit struct {
	customerID string
	amount     float64
	at         time.Time
}

type memTx struct {
	s         *MemoryStore
	held      []string
	writes    map[string]model.Appointment
	ledger    []model.LedgerEntry
	visits    []visit
	grants    []model.LoyaltyGrant
	customers map[string]model.Customer
	idem      map[string]string
	done      bool
}

func (t *memTx) acquire(ctx context.Context, key string) error {
	for _, k := range t.held {
		if k == key {
			return nil
		}
	}
	if err := t.s.locks.lock(ctx, key); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *memTx) LockScope(ctx context.Context, scopeKey, date string) error {
	return t.acquire(ctx, "scope:"+lockKey(scopeKey, date))
}

func (t *memTx) ListActiveByDate(_ context.Context, businessID, date string) ([]model.Appointment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.activeByDateLocked(businessID, date, t.writes), nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if a, ok := t.writes[id]; ok {
		return a.Clone(), nil
	}
	if err := t.acquire(ctx, "appt:"+id); err != nil {
		return model.Appointment{}, err
	}
	return t.s.Get(ctx, id)
}

func (t *memTx) Insert(ctx context.Context, appt model.Appointment) error {
	if appt.PaymentRef != "" {
		if err := t.acquire(ctx, "payment:"+appt.PaymentRef); err != nil {
			return err
		}
	}
	t.s.mu.RLock()
	_, exists := t.s.appts[appt.ID]
	var codeTaken, refTaken bool
	for _, a := range t.s.appts {
		codeTaken = codeTaken || (appt.ConfirmationCode != "" && a.ConfirmationCode == appt.ConfirmationCode)
		refTaken = refTaken || (appt.PaymentRef != "" && a.PaymentRef == appt.PaymentRef)
	}
	t.s.mu.RUnlock()
	for _, a := range t.writes {
		codeTaken = codeTaken || (appt.ConfirmationCode != "" && a.ConfirmationCode == appt.ConfirmationCode)
		refTaken = refTaken || (appt.PaymentRef != "" && a.PaymentRef == appt.PaymentRef)
	}
	if _, staged := t.writes[appt.ID]; exists || staged {
		return apperr.Conflict("appointment already exists")
	}
	switch {
	case refTaken:
		return apperr.Conflict("payment already redeemed")
	case codeTaken:
		return ErrCodeTaken
	}
	t.writes[appt.ID] = appt.Clone()
	return nil
}

func (t *memTx) Update(_ context.Context, appt model.Appointment) error {
	t.s.mu.RLock()
	_, exists := t.s.appts[appt.ID]
	t.s.mu.RUnlock()
	if _, staged := t.writes[appt.ID]; !exists && !staged {
		return apperr.NotFound("appointment", appt.ID)
	}
	t.writes[appt.ID] = appt.Clone()
	return nil
}

func (t *memTx) InsertLedger(_ context.Context, e model.LedgerEntry) (bool, error) {
	for _, staged := range t.ledger {
		if staged.AppointmentID == e.AppointmentID {
			return false, nil
		}
	}
	t.s.mu.RLock()
	_, exists := t.s.ledger[e.AppointmentID]
	t.s.mu.RUnlock()
	if exists {
		return false, nil
	}
	t.ledger = append(t.ledger, e)
	return true, nil
}

func (t *memTx) BumpCustomerVisit(_ context.Context, customerID string, amount float64, at time.Time) error {
	t.visits = append(t.visits, visit{customerID: customerID, amount: amount, at: at})
	return nil
}

func (t *memTx) GrantLoyalty(_ context.Context, g model.LoyaltyGrant) error {
	t.grants = append(t.grants, g)
	return nil
}

func (t *memTx) UpsertCustomerByPhone(ctx context.Context, c model.Customer) (model.Customer, error) {
	if err := t.acquire(ctx, "customer:"+c.BusinessID+"|"+c.Phone); err != nil {
		return model.Customer{}, err
	}
	for _, staged := range t.customers {
		if staged.BusinessID == c.BusinessID && staged.Phone == c.Phone {
			return staged, nil
		}
	}
	t.s.mu.RLock()
	for _, existing := range t.s.customers {
		if existing.BusinessID == c.BusinessID && existing.Phone == c.Phone {
			t.s.mu.RUnlock()
			return existing, nil
		}
	}
	t.s.mu.RUnlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	t.customers[c.ID] = c
	return c, nil
}

func (t *memTx) LockIdempotencyKey(ctx context.Context, businessID, key string) (IdempotencyRecord, bool, error) {
	k := businessID + "|" + key
	if err := t.acquire(ctx, "idem:"+k); err != nil {
		return IdempotencyRecord{}, false, err
	}
	rec := IdempotencyRecord{BusinessID: businessID, IdempotencyKey: key}
	t.s.mu.RLock()
	id, ok := t.s.idem[k]
	t.s.mu.RUnlock()
	rec.AppointmentID = id
	return rec, ok, nil
}

func (t *memTx) FinalizeIdempotency(_ context.Context, businessID, key, appointmentID string) error {
	t.idem[businessID+"|"+key] = appointmentID
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	for id, a := range t.writes {
		t.s.appts[id] = a
	}
	for _, e := range t.ledger {
		if _, exists := t.s.ledger[e.AppointmentID]; !exists {
			t.s.ledger[e.AppointmentID] = e
		}
	}
	for id, c := range t.customers {
		t.s.customers[id] = c
	}
	for k, id := range t.idem {
		t.s.idem[k] = id
	}
	for _, v := range t.visits {
		c, ok := t.s.customers[v.customerID]
		if !ok {
			continue
		}
		c.VisitCount++
		c.TotalSpent += v.amount
		at := v.at
		c.LastVisitAt = &at
		t.s.customers[v.customerID] = c
	}
	t.s.loyalty = append(t.s.loyalty, t.grants...)
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if !t.done {
		t.release()
	}
	return nil
}

func (t *memTx) release() {
	t.done = true
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.unlock(t.held[i])
	}
	t.held = nil
}

type keyedLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func (k *keyedLocks) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	ch, ok := k.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.m[key] = ch
	}
	k.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyedLocks) unlock(key string) {
	k.mu.Lock()
	ch := k.m[key]
	k.mu.Unlock()
	<-ch
}
