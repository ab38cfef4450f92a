package server

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/runa-lang/runa/pkg/bytecode"
	"github.com/runa-lang/runa/pkg/store"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One worker and session store serve every test that only reads or creates
// its own sessions. Tests that need a cache or custom VM options build an
// isolated environment.
// ---------------------------------------------------------------------------

var (
	testWorker   *VMWorker
	testSessions *SessionStore
)

func TestMain(m *testing.M) {
	testSessions = NewSessionStore(bytecode.WithMaxFrames(64))
	testWorker = NewVMWorker(testSessions)

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// newTestEvalService creates an EvalService backed by the shared worker.
func newTestEvalService() *EvalService {
	return NewEvalService(testWorker, nil)
}

// ---------------------------------------------------------------------------
// Isolated helpers
// ---------------------------------------------------------------------------

// testEnv bundles a private worker, session store and chunk cache.
type testEnv struct {
	Worker   *VMWorker
	Sessions *SessionStore
	Cache    *store.ChunkCache
	Service  *EvalService
}

// newIsolatedEnv creates a worker with an in-memory chunk cache. The
// environment is torn down when the test ends.
func newIsolatedEnv(t *testing.T) *testEnv {
	t.Helper()
	cache, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s := NewSessionStore()
	w := NewVMWorker(s)
	env := &testEnv{
		Worker:   w,
		Sessions: s,
		Cache:    cache,
		Service:  NewEvalService(w, cache, bytecode.WithOutput(io.Discard)),
	}
	t.Cleanup(func() {
		w.Stop()
		cache.Close()
	})
	return env
}

func bg() context.Context {
	return context.Background()
}
