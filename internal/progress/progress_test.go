package progress

import (
	"fmt"
	"testing"
)

func TestTracker_DeliversUpdatesInOrder(t *testing.T) {
	t.Parallel()

	tr := NewTracker(8)
	sub := tr.Subscribe()
	defer sub.Close()

	tr.Update(StageResolve, 0.1, "resolving", nil)
	tr.Update(StageProviderFetch, 0.3, "fetching", nil)
	tr.UpdateComplete("done", nil)

	want := []Stage{StageResolve, StageProviderFetch, StagePersist}
	for i, stage := range want {
		st := <-sub.Updates()
		if st.Stage != stage {
			t.Errorf("update %d: stage = %s, want %s", i, st.Stage, stage)
		}
	}
}

func TestTracker_LateSubscriberSeesLastState(t *testing.T) {
	t.Parallel()

	tr := NewTracker(8)
	tr.Update(StageSynthesis, 0.6, "synthesizing", nil)

	sub := tr.Subscribe()
	defer sub.Close()

	st := <-sub.Updates()
	if st.Stage != StageSynthesis {
		t.Errorf("stage = %s, want %s", st.Stage, StageSynthesis)
	}
}

func TestTracker_SealedAfterTerminal(t *testing.T) {
	t.Parallel()

	tr := NewTracker(8)
	tr.UpdateError(StageCluster, "llm down")
	tr.Update(StagePersist, 0.9, "should be ignored", nil)

	last := tr.Last()
	if last.Stage != StageCluster || last.Err != "llm down" {
		t.Errorf("last = %+v, want sealed error state", last)
	}

	tr.UpdateComplete("also ignored", nil)
	if tr.Last().IsComplete {
		t.Error("tracker accepted a second terminal state")
	}
}

func TestTracker_SlowSubscriberDropsOldestNonTerminal(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2)
	sub := tr.Subscribe()
	defer sub.Close()

	// Fill and overflow the queue; the oldest updates give way.
	for i := 0; i < 5; i++ {
		tr.Update(StageProviderFetch, float64(i)/10, fmt.Sprintf("step %d", i), nil)
	}
	tr.UpdateComplete("done", nil)

	var got []State
	for i := 0; i < 2; i++ {
		got = append(got, <-sub.Updates())
	}
	last := got[len(got)-1]
	if !last.IsComplete {
		t.Errorf("last delivered state = %+v, want the terminal one", last)
	}
}

func TestTracker_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	sub := tr.Subscribe()
	sub.Close()
	sub.Close()

	// A closed subscription no longer receives updates.
	tr.Update(StageResolve, 0.1, "after close", nil)
	if _, ok := <-sub.Updates(); ok {
		t.Error("closed subscription received an update")
	}
}

func TestStages_CoversLookupOrder(t *testing.T) {
	t.Parallel()

	stages := Stages()
	if len(stages) != 8 {
		t.Fatalf("len(Stages()) = %d, want 8", len(stages))
	}
	if stages[0] != StageResolve || stages[len(stages)-1] != StageEnhance {
		t.Errorf("stages = %v, want resolve first and enhance last", stages)
	}
}
