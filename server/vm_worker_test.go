package server

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestVMWorker_Do(t *testing.T) {
	w := NewVMWorker(NewSessionStore())
	defer w.Stop()

	result, err := w.Do(func(s *SessionStore) interface{} {
		return len(s.IDs())
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.(int) != 0 {
		t.Errorf("result = %v, want 0", result)
	}
}

func TestVMWorker_RecoversPanic(t *testing.T) {
	w := NewVMWorker(NewSessionStore())
	defer w.Stop()

	_, err := w.Do(func(*SessionStore) interface{} {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want panic message", err)
	}

	// The worker keeps serving after a panic.
	result, err := w.Do(func(*SessionStore) interface{} { return "ok" })
	if err != nil || result != "ok" {
		t.Errorf("Do after panic = %v, %v", result, err)
	}
}

func TestVMWorker_Serializes(t *testing.T) {
	w := NewVMWorker(NewSessionStore())
	defer w.Stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Do(func(*SessionStore) interface{} {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestVMWorker_Stopped(t *testing.T) {
	w := NewVMWorker(NewSessionStore())
	w.Stop()

	if _, err := w.Do(func(*SessionStore) interface{} { return nil }); err == nil {
		t.Error("Do on a stopped worker should fail")
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	s := NewSessionStore()
	a := s.Create("first")
	b := s.Create("")
	if a.ID == b.ID {
		t.Fatalf("duplicate session id %s", a.ID)
	}
	if got := s.IDs(); len(got) != 2 {
		t.Fatalf("IDs = %v, want 2 entries", got)
	}
	if got, ok := s.Get(a.ID); !ok || got.Name != "first" {
		t.Errorf("Get(%s) = %v, %v", a.ID, got, ok)
	}
	if !s.Destroy(a.ID) {
		t.Error("Destroy existing session returned false")
	}
	if s.Destroy(a.ID) {
		t.Error("Destroy twice returned true")
	}
	if _, ok := s.Get(a.ID); ok {
		t.Error("destroyed session still retrievable")
	}
}

func TestSessionStore_Sweep(t *testing.T) {
	s := NewSessionStore()
	s.Create("idle")
	if n := s.Sweep(-time.Second); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if ids := s.IDs(); len(ids) != 0 {
		t.Errorf("IDs after sweep = %v", ids)
	}
}
