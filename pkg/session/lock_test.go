package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/palaverhq/palaver/pkg/adapters/memory"
	"github.com/palaverhq/palaver/pkg/flow"
)

// Per-session lock entries must not accumulate: every operation that
// takes a lock releases it, and entries are removed once their
// refcount hits zero.
func TestNoLockLeakAfterChurn(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	const cycles = 10000
	for i := 0; i < cycles; i++ {
		id := fmt.Sprintf("session-%d", i%100)
		fc := flow.NewContext("demo", "start")
		if err := mgr.Save(ctx, id, fc); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := mgr.Delete(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}

	mgr.mu.Lock()
	lockCount := len(mgr.locks)
	mgr.mu.Unlock()
	if lockCount != 0 {
		t.Errorf("lock leak: %d entries remaining after delete", lockCount)
	}
}

func TestConcurrentSessionsUseDistinctLocks(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			for j := 0; j < 20; j++ {
				fc := flow.NewContext("demo", "start")
				fc.Answers["j"] = j
				if err := mgr.Save(ctx, id, fc); err != nil {
					t.Errorf("save %s: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	mgr.mu.Lock()
	lockCount := len(mgr.locks)
	mgr.mu.Unlock()
	if lockCount != 0 {
		t.Errorf("lock leak: %d entries remaining after concurrent saves", lockCount)
	}
}
