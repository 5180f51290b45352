package bookv1

import (
	"container/list"
	"errors"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	orderv1 "github.com/brasaex/exchange/internal/domain/order/v1"
)

var (
	// ErrNilOrder is returned when a nil order is inserted.
	ErrNilOrder = errors.New("order cannot be nil")
	// ErrWrongSide is returned when an order is inserted into the opposite ladder.
	ErrWrongSide = errors.New("order side does not match ladder side")
	// ErrDuplicateOrder is returned when an order id is already resting in the ladder.
	ErrDuplicateOrder = errors.New("order already in ladder")
)

// Level is a single price level: a FIFO queue of resting orders at one price.
type Level struct {
	Price int64
	queue *list.List
}

func newLevel(price int64) *Level {
	return &Level{
		Price: price,
		queue: list.New(),
	}
}

// Len returns the number of resting orders at this level.
func (l *Level) Len() int {
	return l.queue.Len()
}

// TotalQuantity returns the sum of remaining quantities at this level.
func (l *Level) TotalQuantity() int64 {
	var total int64
	for e := l.queue.Front(); e != nil; e = e.Next() {
		total += e.Value.(*orderv1.Order).RemainingQuantity
	}
	return total
}

// Front returns the order at the head of the FIFO queue, or nil.
func (l *Level) Front() *orderv1.Order {
	e := l.queue.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*orderv1.Order)
}

// Each iterates the level's orders in FIFO order until fn returns false.
func (l *Level) Each(fn func(*orderv1.Order) bool) {
	for e := l.queue.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*orderv1.Order)) {
			return
		}
	}
}

// handle lets Remove find an order's queue node without scanning the level.
type handle struct {
	level *Level
	elem  *list.Element
}

// Ladder is one side of a symbol's book: an ordered mapping from price to a
// FIFO queue of resting limit orders. Iteration yields match-priority order
// (ascending prices for asks, descending for bids); ties within a level break
// FIFO by insertion. Insertion and interior removal are O(1) once the level
// is located; best-price lookup is O(log L) in the number of levels.
//
// The ladder is not safe for concurrent use; the engine serializes access.
type Ladder struct {
	side    orderv1.Side
	levels  btree.Map[int64, *Level]
	handles map[uuid.UUID]handle
}

// NewLadder creates an empty ladder for one side of the book.
func NewLadder(side orderv1.Side) *Ladder {
	return &Ladder{
		side:    side,
		handles: make(map[uuid.UUID]handle),
	}
}

// Side returns the side this ladder holds.
func (l *Ladder) Side() orderv1.Side {
	return l.side
}

// Len returns the number of resting orders across all levels.
func (l *Ladder) Len() int {
	return len(l.handles)
}

// Levels returns the number of distinct price levels.
func (l *Ladder) Levels() int {
	return l.levels.Len()
}

// Insert appends the order to the FIFO queue at its price, creating the level
// if absent.
func (l *Ladder) Insert(o *orderv1.Order) error {
	if o == nil {
		return ErrNilOrder
	}
	if o.Side != l.side {
		return ErrWrongSide
	}
	if _, exists := l.handles[o.ID]; exists {
		return ErrDuplicateOrder
	}

	level, ok := l.levels.Get(o.Price)
	if !ok {
		level = newLevel(o.Price)
		l.levels.Set(o.Price, level)
	}

	elem := level.queue.PushBack(o)
	l.handles[o.ID] = handle{level: level, elem: elem}
	return nil
}

// Remove deletes the order from its level, dropping the level when its queue
// empties. It reports whether the order was resting in the ladder.
func (l *Ladder) Remove(o *orderv1.Order) bool {
	if o == nil {
		return false
	}

	h, ok := l.handles[o.ID]
	if !ok {
		return false
	}

	h.level.queue.Remove(h.elem)
	delete(l.handles, o.ID)
	if h.level.queue.Len() == 0 {
		l.levels.Delete(h.level.Price)
	}
	return true
}

// Contains reports whether the order is resting in the ladder.
func (l *Ladder) Contains(id uuid.UUID) bool {
	_, ok := l.handles[id]
	return ok
}

// PeekBest returns the head order at the best price, or nil when the ladder
// is empty. Best is the lowest price for asks and the highest for bids.
func (l *Ladder) PeekBest() *orderv1.Order {
	level := l.BestLevel()
	if level == nil {
		return nil
	}
	return level.Front()
}

// BestLevel returns the best price level, or nil when the ladder is empty.
func (l *Ladder) BestLevel() *Level {
	var level *Level
	var ok bool
	if l.side == orderv1.SideAsk {
		_, level, ok = l.levels.Min()
	} else {
		_, level, ok = l.levels.Max()
	}
	if !ok {
		return nil
	}
	return level
}

// WalkLevels visits levels in match-priority order until fn returns false.
// fn must not insert or remove levels; removal of visited orders is done by
// the caller between walks.
func (l *Ladder) WalkLevels(fn func(*Level) bool) {
	iter := func(_ int64, level *Level) bool {
		return fn(level)
	}
	if l.side == orderv1.SideAsk {
		l.levels.Scan(iter)
	} else {
		l.levels.Reverse(iter)
	}
}
