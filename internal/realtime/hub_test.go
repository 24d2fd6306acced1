package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllInvoices(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllInvoices: true}}

	event := &Event{Type: EventSnapshot, ChainID: 1, Invoice: "0xabc", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllInvoices client should receive every snapshot")
	}
}

func TestShouldSend_InvoiceFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Invoices: []InvoiceRef{{ChainID: 100, Address: "0xAAAA"}},
	}}

	matching := &Event{Type: EventSnapshot, ChainID: 100, Invoice: "0xaaaa"}
	wrongChain := &Event{Type: EventSnapshot, ChainID: 1, Invoice: "0xaaaa"}
	wrongInvoice := &Event{Type: EventSnapshot, ChainID: 100, Invoice: "0xbbbb"}

	if !h.shouldSend(client, matching) {
		t.Error("Should match subscribed invoice (case-insensitive)")
	}
	if h.shouldSend(client, wrongChain) {
		t.Error("Should NOT match same address on another chain")
	}
	if h.shouldSend(client, wrongInvoice) {
		t.Error("Should NOT match unsubscribed invoice")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No invoices, not AllInvoices: receives nothing
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventSnapshot, ChainID: 1, Invoice: "0xabc"}
	if h.shouldSend(client, event) {
		t.Error("Empty subscription should receive nothing")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventSnapshot, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllInvoices: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllInvoices: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastSnapshot(100, "0xaaaa", map[string]interface{}{"status": "funded"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants one invoice
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Invoices: []InvoiceRef{{ChainID: 100, Address: "0xaaaa"}}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Snapshot for another invoice (should be filtered out)
	h.BroadcastSnapshot(100, "0xbbbb", nil)
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive other invoices")
	default:
		// Good - filtered out
	}

	// Snapshot for the subscribed invoice (should be received)
	h.BroadcastSnapshot(100, "0xaaaa", nil)

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive subscribed invoice snapshots")
	}
}
