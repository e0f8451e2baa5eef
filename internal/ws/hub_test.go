package ws

import (
	"encoding/json"
	"sync"
	"testing"
)

func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case b, ok := <-c.Outbox():
		if !ok {
			t.Fatalf("%s outbox closed", c.ID())
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return f
	default:
		t.Fatalf("%s has no pending frame", c.ID())
	}
	return Frame{}
}

// drain 取出所有待发送帧。
func drain(c *Client) []Frame {
	var out []Frame
	for {
		select {
		case b, ok := <-c.Outbox():
			if !ok {
				return out
			}
			var f Frame
			if err := json.Unmarshal(b, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func TestHub_EmitTargetsOneConnection(t *testing.T) {
	h := NewHub()
	a, b := NewClient("a", 8), NewClient("b", 8)
	h.Register(a)
	h.Register(b)

	h.Emit("a", "ping", map[string]int{"n": 1})
	h.Emit("missing", "ping", nil)

	f := readFrame(t, a)
	if f.Event != "ping" || string(f.Data) != `{"n":1}` {
		t.Errorf("frame = %s %s", f.Event, f.Data)
	}
	if got := drain(b); len(got) != 0 {
		t.Errorf("b frames = %+v, want none", got)
	}
}

func TestHub_BroadcastReachesAll(t *testing.T) {
	h := NewHub()
	clients := []*Client{NewClient("1", 8), NewClient("2", 8), NewClient("3", 8)}
	for _, c := range clients {
		h.Register(c)
	}
	if h.Online() != 3 {
		t.Fatalf("Online() = %d, want 3", h.Online())
	}

	h.Broadcast("hello", nil)
	for _, c := range clients {
		if f := readFrame(t, c); f.Event != "hello" {
			t.Errorf("%s got %q", c.ID(), f.Event)
		}
	}
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	h := NewHub()
	slow := NewClient("slow", 1)
	h.Register(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Emit("slow", "tick", i)
		}
		close(done)
	}()
	<-done

	if got := len(drain(slow)); got != 1 {
		t.Errorf("buffered frames = %d, want 1", got)
	}
}

func TestHub_UnregisterClosesOutboxOnce(t *testing.T) {
	h := NewHub()
	c := NewClient("c", 4)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	if _, ok := <-c.Outbox(); ok {
		t.Error("outbox should be closed")
	}
	if h.Online() != 0 {
		t.Errorf("Online() = %d, want 0", h.Online())
	}
	h.Emit("c", "late", nil)
}

func TestHub_ConcurrentEmitAndUnregister(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c := NewClient(string(rune('a'+i)), 4)
		h.Register(c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h.Broadcast("x", j)
			}
		}()
		go func(c *Client) {
			defer wg.Done()
			h.Unregister(c)
		}(c)
	}
	wg.Wait()
	if h.Online() != 0 {
		t.Errorf("Online() = %d, want 0", h.Online())
	}
}
