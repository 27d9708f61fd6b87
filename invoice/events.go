package invoice

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/framehouse/studio-ledger/ledger"
)

const (
	EventPaymentRecorded    = "payment_recorded"
	EventAggregatesRepaired = "aggregates_repaired"
)

const (
	DefaultEventBacklog     = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable    = errors.New("event hub unavailable")
	ErrInvalidEventTopic = errors.New("invoice id is required")
)

// Event tells open views of an invoice that its state moved.
type Event struct {
	Type          string    `json:"type"`
	InvoiceID     string    `json:"invoice_id"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	PaidAmount    string    `json:"paid_amount"`
	BalanceAmount string    `json:"balance_amount"`
	Status        string    `json:"status"`
	Version       int64     `json:"version"`
	At            time.Time `json:"at"`
}

func newEvent(kind string, inv ledger.Invoice, entry *ledger.PaymentEntry, at time.Time) Event {
	ev := Event{
		Type:          kind,
		InvoiceID:     string(inv.ID),
		PaidAmount:    ledger.FormatMoney(inv.PaidAmount),
		BalanceAmount: ledger.FormatMoney(inv.BalanceAmount),
		Status:        string(inv.Status),
		Version:       inv.Version,
		At:            at,
	}
	if entry != nil {
		ev.PaymentID = string(entry.ID)
		ev.Amount = ledger.FormatMoney(entry.Amount)
	}
	return ev
}

// Hub fans invoice events out to subscribers. Streams exist only while an
// invoice has subscribers; each keeps a short backlog for late joiners.
// Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[ledger.InvoiceID]*stream
	backlog          int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub       *Hub
	invoiceID ledger.InvoiceID
	id        uint64
	ch        chan Event
	once      sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[ledger.InvoiceID]*stream),
		backlog:          DefaultEventBacklog,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	id := ledger.InvoiceID(strings.TrimSpace(event.InvoiceID))
	if id == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[id]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.backlog {
		stream.buffer = stream.buffer[len(stream.buffer)-h.backlog:]
	}
	subs := make([]chan Event, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe opens a subscription and returns the backlog published since
// the stream was opened.
func (h *Hub) Subscribe(invoiceID ledger.InvoiceID) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	id := ledger.InvoiceID(strings.TrimSpace(string(invoiceID)))
	if id == "" {
		return nil, nil, ErrInvalidEventTopic
	}

	stream := h.ensureStream(id)
	stream.mu.Lock()
	subID := stream.nextID
	stream.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	stream.subs[subID] = ch
	backlog := append([]Event(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{hub: h, invoiceID: id, id: subID, ch: ch}, backlog, nil
}

func (h *Hub) ensureStream(id ledger.InvoiceID) *stream {
	h.mu.RLock()
	current := h.streams[id]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[id]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Event)}
		h.streams[id] = current
	}
	return current
}

func (h *Hub) unsubscribe(id ledger.InvoiceID, subID uint64) {
	h.mu.RLock()
	stream := h.streams[id]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, subID)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[id] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, id)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.invoiceID, s.id)
	})
}
