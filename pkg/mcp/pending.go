package mcp

import (
	"sync"
	"time"
)

// pendingResult is what a waiting caller receives: the response message or
// the reason there will be none.
type pendingResult struct {
	msg Message
	err error
}

// pendingRequest is one outstanding request. done has capacity 1 and is
// written exactly once, by whoever removed the entry from the table.
type pendingRequest struct {
	id      int64
	method  string
	created time.Time
	timer   *time.Timer
	done    chan pendingResult
}

// pendingTable correlates responses with the requests that caused them.
// An entry is always removed under mu before it is completed, so a response
// racing its timeout resolves the request once.
type pendingTable struct {
	mu      sync.Mutex
	entries map[int64]*pendingRequest
	closed  bool

	// onTimeout is called outside the lock after a timeout fired.
	onTimeout func(method string)
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*pendingRequest)}
}

// add registers id with a deadline. It fails with ErrConnectionClosed
// between drain and the next reset.
func (p *pendingTable) add(id int64, method string, timeout time.Duration) (*pendingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrConnectionClosed
	}
	req := &pendingRequest{
		id:      id,
		method:  method,
		created: time.Now(),
		done:    make(chan pendingResult, 1),
	}
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			if p.fail(id, &RequestTimeoutError{Method: method, Timeout: timeout}) && p.onTimeout != nil {
				p.onTimeout(method)
			}
		})
	}
	p.entries[id] = req
	return req, nil
}

// take removes id and stops its timer. It returns nil if id is not pending.
func (p *pendingTable) take(id int64) *pendingRequest {
	p.mu.Lock()
	req, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok && req.timer != nil {
		req.timer.Stop()
	}
	return req
}

// resolve completes id with msg. Unknown ids (late or duplicate responses)
// are ignored and reported as false.
func (p *pendingTable) resolve(id int64, msg Message) bool {
	req := p.take(id)
	if req == nil {
		return false
	}
	req.done <- pendingResult{msg: msg}
	return true
}

// fail completes id with err.
func (p *pendingTable) fail(id int64, err error) bool {
	req := p.take(id)
	if req == nil {
		return false
	}
	req.done <- pendingResult{err: err}
	return true
}

// remove forgets id without completing it. Used when the caller gave up.
func (p *pendingTable) remove(id int64) {
	p.take(id)
}

// drain fails every entry with err, empties the table and refuses new
// entries until reset. It returns the number of requests failed.
func (p *pendingTable) drain(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]*pendingRequest)
	p.closed = true
	p.mu.Unlock()

	for _, req := range entries {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.done <- pendingResult{err: err}
	}
	return len(entries)
}

// reset accepts new entries again after a drain.
func (p *pendingTable) reset() {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
