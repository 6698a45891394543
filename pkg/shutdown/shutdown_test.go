package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bbva/deeptracy-api/pkg/logging"
)

func TestManager_Shutdown_RunsHandlersInOrder(t *testing.T) {
	m := NewManager(time.Second, logging.NewNopLogger())

	var order []string
	for _, name := range []string{"server", "workers", "store"} {
		name := name
		m.RegisterHandler(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "server,workers,store" {
		t.Errorf("handlers ran in order %s", got)
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown")
	}
}

func TestManager_Shutdown_CollectsErrors(t *testing.T) {
	m := NewManager(time.Second, logging.NewNopLogger())

	ran := 0
	m.RegisterHandler("first", func(ctx context.Context) error {
		ran++
		return errors.New("boom")
	})
	m.RegisterHandler("second", func(ctx context.Context) error {
		ran++
		return errors.New("bang")
	})

	err := m.Shutdown()
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if ran != 2 {
		t.Errorf("ran %d handlers, want 2", ran)
	}
	for _, want := range []string{"first: boom", "second: bang"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not contain %q", err, want)
		}
	}
}

func TestManager_Shutdown_Once(t *testing.T) {
	m := NewManager(time.Second, logging.NewNopLogger())

	calls := 0
	m.RegisterHandler("counter", func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = m.Shutdown()
	_ = m.Shutdown()

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestManager_Wait_ContextDone(t *testing.T) {
	m := NewManager(time.Second, logging.NewNopLogger())

	called := false
	m.RegisterHandler("flag", func(ctx context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !called {
		t.Error("handler not run after context cancellation")
	}
}
