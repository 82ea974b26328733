package cdp

import "testing"

func TestRegistry_EmitCountsHandlers(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	var calls int
	r.on([]string{"A"}, func(Event) { calls++ })
	off := r.on([]string{"A", "B"}, func(Event) { calls++ })

	if n := r.emit(Event{Method: "A"}); n != 2 {
		t.Errorf("emit(A) ran %d handlers, want 2", n)
	}
	if n := r.emit(Event{Method: "C"}); n != 0 {
		t.Errorf("emit(C) ran %d handlers, want 0", n)
	}

	off()
	if n := r.emit(Event{Method: "B"}); n != 0 {
		t.Errorf("emit(B) after unsubscribe ran %d handlers", n)
	}
	if _, ok := r.handlers["B"]; ok {
		t.Error("empty handler list not removed")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	r.clear()
	if n := r.emit(Event{Method: "A"}); n != 0 {
		t.Errorf("emit after clear ran %d handlers", n)
	}
}

func TestRegistry_UnsubscribeDuringEmit(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	var off func()
	var calls int
	off = r.on([]string{"A"}, func(Event) {
		calls++
		off()
	})
	r.on([]string{"A"}, func(Event) { calls++ })

	r.emit(Event{Method: "A"})
	r.emit(Event{Method: "A"})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
