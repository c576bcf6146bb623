package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/firewatch-core/internal/device"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    []any
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

type failingLookup struct{ err error }

func (f failingLookup) FindByCode(context.Context, string) (*device.Device, error) {
	return nil, f.err
}

func newTestRegistry(t *testing.T, codes ...string) *Registry {
	t.Helper()
	store := device.NewMemoryStore()
	for _, code := range codes {
		if err := store.Create(context.Background(), &device.Device{Code: code}); err != nil {
			t.Fatalf("Create(%q) error = %v", code, err)
		}
	}
	return NewRegistry(store)
}

// ─── Register ───────────────────────────────────────────────────────

func TestRegister_UnknownDevice(t *testing.T) {
	r := newTestRegistry(t, "A")

	err := r.Register(context.Background(), "X", newFakeConn("c1"))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("Register() error = %v, want ErrUnknownDevice", err)
	}
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Register() error = %v, want to match device.ErrDeviceNotFound", err)
	}
	if r.Count() != 0 || r.IsOnline("X") {
		t.Errorf("Count() = %d, IsOnline(X) = %v, want no entry", r.Count(), r.IsOnline("X"))
	}
}

func TestRegister_LookupError(t *testing.T) {
	r := NewRegistry(failingLookup{err: errors.New("db down")})

	err := r.Register(context.Background(), "X", newFakeConn("c1"))
	if err == nil || errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("Register() error = %v, want lookup failure", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestRegister_ReconnectSupersedes(t *testing.T) {
	r := newTestRegistry(t, "X")
	ctx := context.Background()
	first, second := newFakeConn("c1"), newFakeConn("c2")

	if err := r.Register(ctx, "X", first); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(ctx, "X", second); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	if err := r.Send("X", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := len(first.messages()); n != 0 {
		t.Errorf("superseded handle received %d messages, want 0", n)
	}
	if n := len(second.messages()); n != 1 {
		t.Errorf("current handle received %d messages, want 1", n)
	}
}

func TestRegister_NewCodeReleasesPrevious(t *testing.T) {
	r := newTestRegistry(t, "A", "B")
	ctx := context.Background()
	conn := newFakeConn("c1")

	if err := r.Register(ctx, "A", conn); err != nil {
		t.Fatalf("Register(A) error = %v", err)
	}
	if err := r.Register(ctx, "B", conn); err != nil {
		t.Fatalf("Register(B) error = %v", err)
	}

	if r.IsOnline("A") {
		t.Error("IsOnline(A) = true after the connection registered as B")
	}
	if got := r.Online(); len(got) != 1 || got[0] != "B" {
		t.Errorf("Online() = %v, want [B]", got)
	}
	if err := r.Send("A", "msg"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Send(A) error = %v, want ErrNoSession", err)
	}

	if !r.Unregister(conn) {
		t.Error("Unregister() = false, want true")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after Unregister, want 0", r.Count())
	}
}

func TestRegister_NewCodeKeepsSuccessorOnOldCode(t *testing.T) {
	r := newTestRegistry(t, "A", "B")
	ctx := context.Background()
	first, second := newFakeConn("c1"), newFakeConn("c2")

	_ = r.Register(ctx, "A", first)  //nolint:errcheck // device exists
	_ = r.Register(ctx, "A", second) //nolint:errcheck // device exists
	if err := r.Register(ctx, "B", first); err != nil {
		t.Fatalf("Register(B) error = %v", err)
	}

	if err := r.Send("A", "msg"); err != nil {
		t.Fatalf("Send(A) error = %v, want the successor to keep A", err)
	}
	if n := len(second.messages()); n != 1 {
		t.Errorf("successor received %d messages, want 1", n)
	}
	if got := r.Online(); len(got) != 2 {
		t.Errorf("Online() = %v, want [A B]", got)
	}
}

// ─── Unregister ─────────────────────────────────────────────────────

func TestUnregister_StaleHandleKeepsNewer(t *testing.T) {
	r := newTestRegistry(t, "X")
	ctx := context.Background()
	first, second := newFakeConn("c1"), newFakeConn("c2")

	_ = r.Register(ctx, "X", first)  //nolint:errcheck // device exists
	_ = r.Register(ctx, "X", second) //nolint:errcheck // device exists

	if r.Unregister(first) {
		t.Error("Unregister(stale) = true, want false")
	}
	if !r.IsOnline("X") {
		t.Fatal("stale close removed the newer session")
	}

	if !r.Unregister(second) {
		t.Error("Unregister(current) = false, want true")
	}
	if r.IsOnline("X") {
		t.Error("IsOnline(X) = true after current handle closed")
	}
}

func TestUnregister_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	if r.Unregister(newFakeConn("nobody")) {
		t.Error("Unregister() = true for unregistered conn")
	}
}

// ─── Send ───────────────────────────────────────────────────────────

func TestSend(t *testing.T) {
	r := newTestRegistry(t, "X")

	if err := r.Send("X", "msg"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Send() with no session error = %v, want ErrNoSession", err)
	}

	conn := newFakeConn("c1")
	if err := r.Register(context.Background(), "X", conn); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Send("X", "msg"); err != nil {
		t.Fatalf("Send() right after Register() error = %v", err)
	}

	conn.mu.Lock()
	conn.sendErr = ErrConnClosed
	conn.mu.Unlock()

	err := r.Send("X", "msg")
	if !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send() error = %v, want the transport error", err)
	}
	if errors.Is(err, ErrNoSession) {
		t.Errorf("Send() error = %v, a failed write must not read as no session", err)
	}
	if n := len(conn.messages()); n != 1 {
		t.Errorf("messages = %d, want 1 (no retry)", n)
	}
}

func TestOnline(t *testing.T) {
	r := newTestRegistry(t, "B", "A", "C")
	ctx := context.Background()

	for i, code := range []string{"B", "A"} {
		if err := r.Register(ctx, code, newFakeConn(fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("Register(%q) error = %v", code, err)
		}
	}

	got := r.Online()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("Online() = %v, want [A B]", got)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	codes := make([]string, 20)
	for i := range codes {
		codes[i] = fmt.Sprintf("SD-%02d", i)
	}
	r := newTestRegistry(t, codes...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("conn-%d", i))
			if err := r.Register(ctx, code, conn); err != nil {
				t.Errorf("Register(%q) error = %v", code, err)
				return
			}
			_ = r.Send(code, "ping") //nolint:errcheck // racing unregister
			r.IsOnline(code)
			if i%2 == 0 {
				r.Unregister(conn)
			}
		}(i, code)
	}
	wg.Wait()

	if r.Count() != len(codes)/2 {
		t.Errorf("Count() = %d, want %d", r.Count(), len(codes)/2)
	}
}
