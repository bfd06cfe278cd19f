package transport

import (
	"sync"
)

// Pending is a request sitting in a Queue waiting for its response.
type Pending struct {
	ID    RequestID
	Msg   any
	After RequestID

	done func(any)
	fail func(error)
}

// Queue is an in-memory Requester. Requests accumulate until the other side
// (a test, or a host pumping a real connection) takes them and resolves or
// fails them. Cancelled requests lose their callbacks; after-chained requests
// are not handed out before the request they wait on completed.
type Queue struct {
	mu       sync.Mutex
	next     RequestID
	pending  map[RequestID]*Pending
	order    []RequestID
	finished map[RequestID]bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		pending:  make(map[RequestID]*Pending),
		finished: make(map[RequestID]bool),
	}
}

// Send implements Requester.
func (q *Queue) Send(req Request) RequestID {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	id := q.next
	q.pending[id] = &Pending{
		ID:    id,
		Msg:   req.Msg,
		After: req.After,
		done:  req.Done,
		fail:  req.Fail,
	}
	q.order = append(q.order, id)
	return id
}

// Cancel implements Requester.
func (q *Queue) Cancel(id RequestID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.pending[id]; ok {
		p.done = nil
		p.fail = nil
	}
}

// Take pops the oldest submittable request: one whose After dependency, if
// any, has already completed. Returns nil if nothing is submittable.
func (q *Queue) Take() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.order {
		p, ok := q.pending[id]
		if !ok {
			continue
		}
		if p.After != 0 && p.After <= q.next && !q.finished[p.After] {
			continue
		}
		q.order = append(q.order[:i:i], q.order[i+1:]...)
		delete(q.pending, id)
		return p
	}
	return nil
}

// Outstanding reports how many requests are waiting.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Resolve completes a taken request with a response payload.
func (q *Queue) Resolve(p *Pending, response any) {
	q.markFinished(p.ID)
	if p.done != nil {
		p.done(response)
	}
}

// Fail completes a taken request with an error.
func (q *Queue) Fail(p *Pending, err error) {
	q.markFinished(p.ID)
	if p.fail != nil {
		p.fail(err)
	}
}

func (q *Queue) markFinished(id RequestID) {
	q.mu.Lock()
	q.finished[id] = true
	q.mu.Unlock()
}
