package warehouse

import (
	"cmp"
	"context"
	"iter"
	"math"
	"slices"
	"sync"
	"time"
)

type shelfKey struct {
	bookID  string
	shelfID string
}

func compareShelfKeys(a, b shelfKey) int {
	if c := cmp.Compare(a.bookID, b.bookID); c != 0 {
		return c
	}
	return cmp.Compare(a.shelfID, b.shelfID)
}

// debit is the total requested from one shelf record across a batch.
type debit struct {
	key    shelfKey
	amount int
}

// collectDebits merges lines that hit the same record and sorts the result,
// which gives every batch the same lock acquisition order. Merged amounts
// saturate at math.MaxInt, which no record can cover. Lines must be positive.
func collectDebits(lines []FulfillmentLine) []debit {
	index := make(map[shelfKey]int, len(lines))
	var out []debit
	for _, l := range lines {
		k := shelfKey{bookID: l.BookID, shelfID: l.ShelfID}
		if i, ok := index[k]; ok {
			if l.NumberOfBooks > math.MaxInt-out[i].amount {
				out[i].amount = math.MaxInt
			} else {
				out[i].amount += l.NumberOfBooks
			}
			continue
		}
		index[k] = len(out)
		out = append(out, debit{key: k, amount: l.NumberOfBooks})
	}
	slices.SortFunc(out, func(a, b debit) int { return compareShelfKeys(a.key, b.key) })
	return out
}

type shelfCell struct {
	mu    sync.Mutex
	count int
}

// MemoryLedger keeps shelf records in process. Each record has its own
// mutex; batches lock their records in sorted key order.
type MemoryLedger struct {
	mu      sync.RWMutex
	cells   map[shelfKey]*shelfCell
	shelves map[string][]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		cells:   make(map[shelfKey]*shelfCell),
		shelves: make(map[string][]string),
	}
}

func (l *MemoryLedger) cell(k shelfKey) *shelfCell {
	l.mu.RLock()
	c, ok := l.cells[k]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cells[k]; ok {
		return c
	}
	c = &shelfCell{}
	l.cells[k] = c
	l.shelves[k.bookID] = append(l.shelves[k.bookID], k.shelfID)
	return c
}

func (l *MemoryLedger) Place(ctx context.Context, bookID, shelfID string, quantity int) error {
	if quantity <= 0 || quantity > MaxShelfCount {
		return ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := l.cell(shelfKey{bookID: bookID, shelfID: shelfID})
	c.mu.Lock()
	defer c.mu.Unlock()
	if quantity > MaxShelfCount-c.count {
		return ErrShelfFull
	}
	c.count += quantity
	return nil
}

func (l *MemoryLedger) Locate(ctx context.Context, bookID string) ([]ShelfLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	shelfIDs := slices.Clone(l.shelves[bookID])
	cells := make([]*shelfCell, len(shelfIDs))
	for i, s := range shelfIDs {
		cells[i] = l.cells[shelfKey{bookID: bookID, shelfID: s}]
	}
	l.mu.RUnlock()

	out := make([]ShelfLocation, len(shelfIDs))
	for i, c := range cells {
		c.mu.Lock()
		out[i] = ShelfLocation{ShelfID: shelfIDs[i], Count: c.count}
		c.mu.Unlock()
	}
	return out, nil
}

func (l *MemoryLedger) TryDecrement(ctx context.Context, lines []FulfillmentLine) error {
	for _, line := range lines {
		if line.NumberOfBooks <= 0 {
			return ErrInvalidQuantity
		}
	}
	debits := collectDebits(lines)
	if len(debits) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// A missing record holds zero copies; nothing can be debited from it.
	l.mu.RLock()
	cells := make([]*shelfCell, len(debits))
	for i, d := range debits {
		c, ok := l.cells[d.key]
		if !ok {
			l.mu.RUnlock()
			return &InsufficientStockError{BookID: d.key.bookID, ShelfID: d.key.shelfID, Requested: d.amount}
		}
		cells[i] = c
	}
	l.mu.RUnlock()

	for _, c := range cells {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	for i, d := range debits {
		if cells[i].count < d.amount {
			return &InsufficientStockError{
				BookID:    d.key.bookID,
				ShelfID:   d.key.shelfID,
				Requested: d.amount,
				Available: cells[i].count,
			}
		}
	}
	for i, d := range debits {
		cells[i].count -= d.amount
	}
	return nil
}

// MemoryOrderStore keeps orders in process.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	ids    []string
	now    func() time.Time
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*Order),
		now:    time.Now,
	}
}

func (s *MemoryOrderStore) Create(ctx context.Context, bookIDs []string) (string, error) {
	if len(bookIDs) == 0 {
		return "", ErrEmptyOrder
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewOrderID(now)
	for {
		if _, taken := s.orders[id]; !taken {
			break
		}
		id = NewOrderID(now)
	}
	s.orders[id] = &Order{
		ID:              id,
		RequestedCounts: Tally(bookIDs),
		Status:          OrderPending,
		CreatedAt:       now,
	}
	s.ids = append(s.ids, id)
	return id, nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, &UnknownOrderError{OrderID: orderID}
	}
	return o.clone(), nil
}

// List yields a snapshot taken when iteration starts.
func (s *MemoryOrderStore) List(ctx context.Context) iter.Seq2[*Order, error] {
	return func(yield func(*Order, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		s.mu.RLock()
		snapshot := make([]*Order, 0, len(s.ids))
		for _, id := range s.ids {
			snapshot = append(snapshot, s.orders[id].clone())
		}
		s.mu.RUnlock()

		for _, o := range snapshot {
			if !yield(o, nil) {
				return
			}
		}
	}
}

func (s *MemoryOrderStore) MarkFulfilled(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return &UnknownOrderError{OrderID: orderID}
	}
	if o.Status != OrderPending {
		return &OrderNotPendingError{OrderID: orderID, Status: o.Status}
	}
	o.Status = OrderFulfilled
	return nil
}
