package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-racer/chrome-logs/internal/ingest"
)

func TestAddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	f := newFixture()
	b := f.broadcaster(maxConns)
	defer b.Stop()

	var clients []*client
	for i := 0; i < maxConns; i++ {
		srv, conn := dialTestWS(t)
		defer srv.Close()

		c, err := b.AddClient(conn)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	srv, conn := dialTestWS(t)
	defer srv.Close()
	if _, err := b.AddClient(conn); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after rejection, got %d", maxConns, got)
	}

	b.RemoveClient(clients[0])

	srv2, conn2 := dialTestWS(t)
	defer srv2.Close()
	if _, err := b.AddClient(conn2); err != nil {
		t.Fatalf("AddClient after removal: unexpected error: %v", err)
	}
}

func TestAddClient_ZeroMaxConnections_Unlimited(t *testing.T) {
	f := newFixture()
	b := f.broadcaster(0)
	defer b.Stop()

	for i := 0; i < 10; i++ {
		srv, conn := dialTestWS(t)
		defer srv.Close()
		if _, err := b.AddClient(conn); err != nil {
			t.Fatalf("AddClient[%d]: unexpected error with maxConns=0: %v", i, err)
		}
	}
	if got := b.ClientCount(); got != 10 {
		t.Fatalf("expected 10 clients, got %d", got)
	}
}

func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()

	f := newFixture()
	b := f.broadcaster(0)
	defer b.Stop()

	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, 64),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

func TestBroadcaster_SequenceNumberWrapAround(t *testing.T) {
	b := &Broadcaster{clients: make(map[*client]bool)}

	maxUint64 := ^uint64(0)
	b.seq.Store(maxUint64 - 3)

	var seqs []uint64
	for i := 0; i < 5; i++ {
		seqs = append(seqs, b.seq.Add(1))
	}

	expected := []uint64{maxUint64 - 2, maxUint64 - 1, maxUint64, 0, 1}
	for i := range expected {
		if seqs[i] != expected[i] {
			t.Errorf("seq[%d]: expected %d, got %d", i, expected[i], seqs[i])
		}
	}
}

func TestBroadcaster_StopIsIdempotent(t *testing.T) {
	f := newFixture()
	b := f.broadcaster(0)
	srv, conn := dialTestWS(t)
	defer srv.Close()
	if _, err := b.AddClient(conn); err != nil {
		t.Fatal(err)
	}

	b.Stop()
	b.Stop()
	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount after Stop = %d, want 0", got)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw struct {
		Type    MessageType     `json:"type"`
		Seq     uint64          `json:"seq"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return WSMessage{Type: raw.Type, Seq: raw.Seq, Payload: raw.Payload}
}

func TestLiveFeed_SnapshotThenDelta(t *testing.T) {
	f := newFixture()
	f.norm.HandleConsoleAPICalled(consoleCall("log", "before connect"))

	// A wide throttle keeps both live entries in one delta.
	b := NewBroadcaster(f.svc, f.sessions, 200*time.Millisecond, time.Hour, 20, 0, nil)
	defer b.Stop()
	f.norm.AddObserver(b)

	srv := httptest.NewServer(NewServer(Options{Service: f.svc, Status: f.sessions, Broadcaster: b}).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != MsgSnapshot {
		t.Fatalf("first message type = %q, want snapshot", msg.Type)
	}
	var snap SnapshotPayload
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Logs) != 1 || snap.Logs[0].Message != "before connect" {
		t.Errorf("snapshot logs = %+v", snap.Logs)
	}

	f.norm.HandleConsoleAPICalled(consoleCall("log", "live one"))
	f.norm.HandleConsoleAPICalled(consoleCall("error", "live two"))

	delta := readMessage(t, conn)
	if delta.Type != MsgDelta {
		t.Fatalf("second message type = %q, want delta", delta.Type)
	}
	if delta.Seq <= msg.Seq {
		t.Errorf("delta seq %d not after snapshot seq %d", delta.Seq, msg.Seq)
	}
	var d DeltaPayload
	if err := json.Unmarshal(delta.Payload.(json.RawMessage), &d); err != nil {
		t.Fatal(err)
	}
	if len(d.Logs) != 1 || d.Logs[0].Message != "live one" {
		t.Errorf("delta logs = %+v", d.Logs)
	}
	if len(d.Errors) != 1 || d.Errors[0].Message != "live two" {
		t.Fatalf("delta errors = %+v", d.Errors)
	}
	if d.Errors[0].SourceFile != ingest.UnknownSource {
		t.Errorf("SourceFile = %q, want %q", d.Errors[0].SourceFile, ingest.UnknownSource)
	}
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func decodePayload[T any](t *testing.T, msg WSMessage) T {
	t.Helper()
	var p T
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLiveFeed_OtherViewerDoesNotCreateGap(t *testing.T) {
	f := newFixture()
	b := NewBroadcaster(f.svc, f.sessions, 10*time.Millisecond, time.Hour, 20, 0, nil)
	defer b.Stop()
	f.norm.AddObserver(b)

	srv := httptest.NewServer(NewServer(Options{Service: f.svc, Status: f.sessions, Broadcaster: b}).Handler())
	defer srv.Close()

	a := dialFeed(t, srv)
	snapA := readMessage(t, a)

	f.norm.HandleConsoleAPICalled(consoleCall("log", "first"))
	first := readMessage(t, a)

	bConn := dialFeed(t, srv)
	snapB := readMessage(t, bConn)
	if snapB.Seq != first.Seq {
		t.Errorf("late snapshot seq = %d, want last broadcast seq %d", snapB.Seq, first.Seq)
	}

	f.norm.HandleConsoleAPICalled(consoleCall("log", "second"))
	second := readMessage(t, a)
	fromB := readMessage(t, bConn)

	if first.Seq != snapA.Seq+1 || second.Seq != first.Seq+1 {
		t.Errorf("viewer A seqs = %d, %d, %d; want contiguous", snapA.Seq, first.Seq, second.Seq)
	}
	if fromB.Seq != snapB.Seq+1 {
		t.Errorf("viewer B seqs = %d, %d; want contiguous", snapB.Seq, fromB.Seq)
	}
}

func TestAddClient_RefusedClientKeepsSeq(t *testing.T) {
	f := newFixture()
	b := f.broadcaster(1)
	defer b.Stop()

	srv1, conn1 := dialTestWS(t)
	defer srv1.Close()
	if _, err := b.AddClient(conn1); err != nil {
		t.Fatal(err)
	}
	before := b.seq.Load()

	srv2, conn2 := dialTestWS(t)
	defer srv2.Close()
	if _, err := b.AddClient(conn2); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := b.seq.Load(); got != before {
		t.Errorf("seq = %d after refusal, want %d", got, before)
	}
}

func TestLiveFeed_PendingEntryDeliveredOnce(t *testing.T) {
	f := newFixture()
	b := NewBroadcaster(f.svc, f.sessions, 500*time.Millisecond, time.Hour, 20, 0, nil)
	defer b.Stop()
	f.norm.AddObserver(b)

	srv := httptest.NewServer(NewServer(Options{Service: f.svc, Status: f.sessions, Broadcaster: b}).Handler())
	defer srv.Close()

	// Ingested inside the throttle window, before the viewer connects.
	f.norm.HandleConsoleAPICalled(consoleCall("log", "once"))
	conn := dialFeed(t, srv)

	snap := decodePayload[SnapshotPayload](t, readMessage(t, conn))
	delta := readMessage(t, conn)
	if delta.Type != MsgDelta {
		t.Fatalf("second message type = %q, want delta", delta.Type)
	}
	d := decodePayload[DeltaPayload](t, delta)

	delivered := 0
	for _, l := range append(snap.Logs, d.Logs...) {
		if l.Message == "once" {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("entry delivered %d times (snapshot %d, delta %d), want once", delivered, len(snap.Logs), len(d.Logs))
	}

	// A later viewer finds it in its snapshot instead.
	late := decodePayload[SnapshotPayload](t, readMessage(t, dialFeed(t, srv)))
	if len(late.Logs) != 1 || late.Logs[0].Message != "once" {
		t.Errorf("late snapshot logs = %+v, want [once]", late.Logs)
	}
}
