package correlator

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pillama/bridge/internal/protocol"
)

func tokenEvent(id, content string) protocol.Event {
	return protocol.Event{RequestID: id, Type: "token", Content: content}
}

func completeEvent(id string, evalCount int) protocol.Event {
	ev := protocol.Event{RequestID: id, Type: "complete"}
	ev.EvalCount = evalCount
	return ev
}

func errorEvent(id, msg string) protocol.Event {
	return protocol.Event{RequestID: id, Type: "error", Content: msg}
}

// drain collects updates until the terminal one, with a timeout guard.
func drain(t *testing.T, p *PendingRequest) []Update {
	t.Helper()

	var updates []Update
	for {
		select {
		case u := <-p.Updates():
			updates = append(updates, u)
			if u.Terminal() {
				return updates
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for terminal update, got %d so far", len(updates))
		}
	}
}

func TestDispatch_TokensThenComplete(t *testing.T) {
	c := New(nil)

	p, err := c.Register("r1", ModeStreaming)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c.Dispatch(tokenEvent("r1", "Hel"))
	c.Dispatch(tokenEvent("r1", "lo"))
	c.Dispatch(completeEvent("r1", 2))

	updates := drain(t, p)
	if len(updates) != 3 {
		t.Fatalf("got %d updates, want 3", len(updates))
	}
	if updates[0].Event.Content != "Hel" || updates[1].Event.Content != "lo" {
		t.Errorf("token order wrong: %q, %q", updates[0].Event.Content, updates[1].Event.Content)
	}
	if !updates[2].Terminal() || updates[2].Err != nil {
		t.Errorf("final update should be successful terminal, got %+v", updates[2])
	}
	if updates[2].Event.EvalCount != 2 {
		t.Errorf("EvalCount = %d, want 2", updates[2].Event.EvalCount)
	}

	if c.Len() != 0 {
		t.Errorf("Len() = %d after terminal, want 0", c.Len())
	}
}

func TestDispatch_ErrorBeforeAnyToken(t *testing.T) {
	c := New(nil)

	p, err := c.Register("r1", ModeUnary)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c.Dispatch(errorEvent("r1", "Failed to load model: llama3.2"))

	updates := drain(t, p)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if !errors.Is(updates[0].Err, ErrBackend) {
		t.Errorf("Err = %v, want ErrBackend", updates[0].Err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	c := New(nil)

	if _, err := c.Register("r1", ModeUnary); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if _, err := c.Register("r1", ModeUnary); !errors.Is(err, ErrDuplicateRequestID) {
		t.Errorf("second Register err = %v, want ErrDuplicateRequestID", err)
	}
}

func TestDispatch_UnknownIDDropped(t *testing.T) {
	c := New(nil)

	// Must not panic or block
	c.Dispatch(tokenEvent("ghost", "x"))
	c.Dispatch(completeEvent("ghost", 1))

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCancelAll(t *testing.T) {
	c := New(nil)

	var pendings []*PendingRequest
	for i := 0; i < 5; i++ {
		p, err := c.Register(fmt.Sprintf("r%d", i), ModeStreaming)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		pendings = append(pendings, p)
	}

	c.CancelAll(errors.New("connection lost"))

	for i, p := range pendings {
		updates := drain(t, p)
		if len(updates) != 1 {
			t.Fatalf("request %d: got %d updates, want 1", i, len(updates))
		}
		if !errors.Is(updates[0].Err, ErrCancelled) {
			t.Errorf("request %d: Err = %v, want ErrCancelled", i, updates[0].Err)
		}
	}

	if c.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll, want 0", c.Len())
	}
}

func TestRelease_AbandonedRequestDoesNotBlockDispatch(t *testing.T) {
	c := New(nil, WithBufferSize(1))

	p, err := c.Register("r1", ModeStreaming)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	c.Release(p)

	// Nobody is reading; all of these must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.Dispatch(tokenEvent("r1", "x"))
		}
		c.Dispatch(completeEvent("r1", 10))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on abandoned request")
	}
}

func TestRelease_Twice(t *testing.T) {
	c := New(nil)

	p, err := c.Register("r1", ModeUnary)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	c.Release(p)
	c.Release(p) // no-op, must not panic
}

func TestRelease_AfterTerminalDelivery(t *testing.T) {
	c := New(nil)

	p, err := c.Register("r1", ModeUnary)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	c.Dispatch(completeEvent("r1", 1))
	drain(t, p)

	c.Release(p) // already resolved, must not panic
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

// TestRelease_UnblocksPendingTerminalDelivery covers the race between a
// consumer abandoning its request and a terminal event arriving for it: the
// dispatcher takes the entry out of the registry, then blocks delivering
// into a full sink nobody reads anymore. Release must settle the request
// and unblock the dispatcher even though the id is no longer registered.
func TestRelease_UnblocksPendingTerminalDelivery(t *testing.T) {
	c := New(nil, WithBufferSize(1))

	p, err := c.Register("r1", ModeStreaming)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Fill the sink so the terminal delivery below cannot complete.
	c.Dispatch(tokenEvent("r1", "x"))

	delivered := make(chan struct{})
	go func() {
		c.Dispatch(completeEvent("r1", 1))
		close(delivered)
	}()

	// Let the dispatch take the entry and block on the full sink.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-delivered:
		t.Fatal("terminal dispatch completed against a full, unread sink")
	default:
	}

	c.Release(p)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal dispatch still blocked after release")
	}
}

// TestDispatch_NoCrossTalk runs many concurrent requests and checks each
// sink only ever sees its own events, in arrival order.
func TestDispatch_NoCrossTalk(t *testing.T) {
	const (
		requests       = 20
		tokensPerReq   = 50
		dispatchRounds = tokensPerReq
	)

	c := New(nil, WithBufferSize(tokensPerReq+1))

	pendings := make(map[string]*PendingRequest, requests)
	ids := make([]string, 0, requests)
	for i := 0; i < requests; i++ {
		id := fmt.Sprintf("req-%d", i)
		p, err := c.Register(id, ModeStreaming)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		pendings[id] = p
		ids = append(ids, id)
	}

	// Interleave dispatches across requests from several goroutines, but
	// keep per-request order by giving each request its own dispatcher.
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for seq := 0; seq < dispatchRounds; seq++ {
				c.Dispatch(tokenEvent(id, fmt.Sprintf("%s:%d", id, seq)))
			}
			c.Dispatch(completeEvent(id, dispatchRounds))
		}(id)
	}
	wg.Wait()

	for id, p := range pendings {
		updates := drain(t, p)
		if len(updates) != dispatchRounds+1 {
			t.Fatalf("%s: got %d updates, want %d", id, len(updates), dispatchRounds+1)
		}
		for seq := 0; seq < dispatchRounds; seq++ {
			want := fmt.Sprintf("%s:%d", id, seq)
			if updates[seq].Event.Content != want {
				t.Fatalf("%s: update %d = %q, want %q", id, seq, updates[seq].Event.Content, want)
			}
		}
	}
}
