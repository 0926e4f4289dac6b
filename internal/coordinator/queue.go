package coordinator

import "sync"

// Queue is the single global FIFO of the coordinator bus.
type Queue struct {
	mu      sync.Mutex
	pending []Message
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

func (q *Queue) Dequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Message{}, false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

// DequeueBatch removes up to n of the oldest messages.
func (q *Queue) DequeueBatch(n int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(n, len(q.pending))
	if n <= 0 {
		return nil
	}
	batch := make([]Message, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	return batch
}

// DrainUrgent removes every high or critical message, oldest first, and
// leaves the remaining order untouched.
func (q *Queue) DrainUrgent() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var urgent []Message
	kept := q.pending[:0:0]
	for _, m := range q.pending {
		if m.Priority.Urgent() {
			urgent = append(urgent, m)
		} else {
			kept = append(kept, m)
		}
	}
	q.pending = kept
	return urgent
}

// Pending returns a copy of the queued messages.
func (q *Queue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.pending...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
