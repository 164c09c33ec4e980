package followup

import "testing"

func TestQueue_Steer_InjectsIntoActiveRunner(t *testing.T) {
	var gotSessionKey, gotText string
	var gotActive bool
	q := NewQueue(ModeSteer, func(sessionKey, text string, isActive bool) {
		gotSessionKey, gotText, gotActive = sessionKey, text, isActive
	})
	q.SetActive("s1", true)

	q.Enqueue("s1", "hold on, also check the logs")

	if gotSessionKey != "s1" || gotText != "hold on, also check the logs" || !gotActive {
		t.Errorf("unexpected callback args: %s %s %v", gotSessionKey, gotText, gotActive)
	}
}

func TestQueue_Steer_RoutesFreshWhenInactive(t *testing.T) {
	var gotActive bool
	q := NewQueue(ModeSteer, func(sessionKey, text string, isActive bool) {
		gotActive = isActive
	})

	q.Enqueue("s1", "hello")

	if gotActive {
		t.Error("expected isActive=false for a session with no live runner")
	}
}

func TestQueue_Collect_BuffersUntilDrain(t *testing.T) {
	called := false
	q := NewQueue(ModeCollect, func(sessionKey, text string, isActive bool) { called = true })

	q.Enqueue("s1", "one")
	q.Enqueue("s1", "two")

	if called {
		t.Error("collect mode must not invoke the callback on enqueue")
	}

	msgs := q.Drain("s1")
	if len(msgs) != 2 || msgs[0] != "one" || msgs[1] != "two" {
		t.Errorf("unexpected drained messages: %v", msgs)
	}

	if msgs2 := q.Drain("s1"); len(msgs2) != 0 {
		t.Errorf("expected drain to clear the queue, got %v", msgs2)
	}
}
