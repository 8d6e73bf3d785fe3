package session

import (
	"sync"
	"testing"

	"github.com/BTreeMap/DecisionPipe/internal/models"
)

func TestEnsureCreatesOnceAndPreservesOrder(t *testing.T) {
	r := NewInMemoryRegistry()
	a := r.Ensure("U_A")
	b := r.Ensure("U_B")
	again := r.Ensure("U_A")

	if a != again {
		t.Error("Ensure should return the same session for a known participant")
	}
	if a.Stage != models.StageNew || b.Stage != models.StageNew {
		t.Errorf("new sessions should start at NEW, got %q and %q", a.Stage, b.Stage)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(snap))
	}
	if snap[0].ParticipantID != "U_A" || snap[1].ParticipantID != "U_B" {
		t.Errorf("snapshot should follow registration order, got %s then %s",
			snap[0].ParticipantID, snap[1].ParticipantID)
	}
}

func TestGetUnknownParticipant(t *testing.T) {
	r := NewInMemoryRegistry()
	if r.Get("U_X") != nil {
		t.Error("Get should return nil for an unknown participant")
	}
}

func TestAllAtStage(t *testing.T) {
	r := NewInMemoryRegistry()
	if r.AllAtStage(models.StageAwaitingDiscussion) {
		t.Error("empty registry must not satisfy the barrier")
	}

	a := r.Ensure("U_A")
	b := r.Ensure("U_B")
	a.Stage = models.StageAwaitingDiscussion
	if r.AllAtStage(models.StageAwaitingDiscussion) {
		t.Error("barrier must not be satisfied while a participant lags")
	}
	b.Stage = models.StageAwaitingDiscussion
	if !r.AllAtStage(models.StageAwaitingDiscussion) {
		t.Error("barrier should be satisfied once all participants reach the stage")
	}
}

func TestTryLaunchFiresExactlyOnce(t *testing.T) {
	r := NewInMemoryRegistry()
	if !r.TryLaunch() {
		t.Fatal("first TryLaunch should succeed")
	}
	if r.TryLaunch() {
		t.Error("second TryLaunch should fail")
	}
	if !r.Launched() {
		t.Error("Launched should report true after a successful TryLaunch")
	}
}

func TestTryLaunchConcurrent(t *testing.T) {
	r := NewInMemoryRegistry()
	const goroutines = 32

	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryLaunch() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one launcher, got %d", count)
	}
}
