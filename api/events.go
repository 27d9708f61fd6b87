package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/framehouse/studio-ledger/invoice"
	"github.com/framehouse/studio-ledger/ledger"
)

const sseHeartbeat = 15 * time.Second

// StreamEvents pushes invoice events to an open view as server-sent events.
// The first event is a snapshot of the current state so a view that missed
// updates can resync.
// GET /api/invoices/{id}/events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	hub := h.Service.Events()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream unavailable", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "Streaming unsupported", nil)
		return
	}

	// Subscribe before reading the snapshot: a payment committed in between
	// is then either in the snapshot or queued on the subscription.
	id := invoiceIDParam(r)
	sub, backlog, err := hub.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream unavailable", err)
		return
	}
	defer sub.Close()

	if h.beforeSnapshot != nil {
		h.beforeSnapshot()
	}
	view, err := h.Service.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get invoice", err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, "retry: 2000\n\n"); err != nil {
		return
	}
	snapshot := invoice.Event{
		Type:          "snapshot",
		InvoiceID:     string(view.ID),
		PaidAmount:    ledger.FormatMoney(view.PaidAmount),
		BalanceAmount: ledger.FormatMoney(view.BalanceAmount),
		Status:        string(view.Status),
		Version:       view.Version,
		At:            h.Service.Clock().Now().UTC(),
	}
	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	last := view.Version
	for _, ev := range backlog {
		if ev.Version <= last {
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			return
		}
		last = ev.Version
	}
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.Version <= last {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			last = ev.Version
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev invoice.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
