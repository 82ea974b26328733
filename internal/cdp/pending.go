package cdp

import (
	"context"
	"encoding/json"
	"sync"
)

// outcome is what a pending slot is fulfilled with: a response or a failure.
type outcome struct {
	resp *Response
	err  error
}

// pendingTable maps command ids to single-fulfilment result slots.
// An entry is removed by whoever fulfils or abandons it, so each id sees
// exactly one outcome.
type pendingTable struct {
	mu    sync.Mutex
	slots map[int64]chan outcome
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[int64]chan outcome)}
}

// add registers a slot for id. Must be called before the command is written.
func (t *pendingTable) add(id int64) chan outcome {
	ch := make(chan outcome, 1)
	t.mu.Lock()
	t.slots[id] = ch
	t.mu.Unlock()
	return ch
}

// resolve delivers resp to its slot and drops the entry.
// Returns false if no caller is waiting on resp.ID.
func (t *pendingTable) resolve(resp *Response) bool {
	t.mu.Lock()
	ch, ok := t.slots[resp.ID]
	delete(t.slots, resp.ID)
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- outcome{resp: resp}
	return true
}

// remove drops the entry for id without fulfilling it.
// Returns true if this call removed it.
func (t *pendingTable) remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[id]
	delete(t.slots, id)
	return ok
}

// failAll fails every outstanding slot with err and empties the table.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[int64]chan outcome)
	t.mu.Unlock()

	for _, ch := range slots {
		ch <- outcome{err: err}
	}
	return len(slots)
}

// len returns the number of outstanding slots.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// wait blocks until the slot for id is fulfilled, ctx expires, or done is
// closed. When the caller gives up but loses the race to remove its own
// entry, the value already delivered is returned instead, so a resolution
// and a timeout are never both observed.
func (t *pendingTable) wait(ctx context.Context, id int64, method string, ch chan outcome, done <-chan struct{}, doneErr func() error) (json.RawMessage, error) {
	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		if t.remove(id) {
			return nil, &TimeoutError{Method: method, ID: id, Err: ctx.Err()}
		}
		o = <-ch
	case <-done:
		if t.remove(id) {
			return nil, doneErr()
		}
		o = <-ch
	}

	if o.err != nil {
		return nil, o.err
	}
	if o.resp.Error != nil {
		return nil, o.resp.Error
	}
	return o.resp.Result, nil
}
