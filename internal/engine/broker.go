package engine

import "sync"

// subscriberBufferSize is the channel buffer for each output subscriber.
// Chunks are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// OutputBroker fans appended task output out to live subscribers.
// It is safe for concurrent use.
//
// Published chunks are notifications: the store stays the source of truth,
// so a subscriber that drops chunks can re-read the output by offset.
// Closed topics are kept as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type OutputBroker struct {
	mu     sync.Mutex
	topics map[string]*outputTopic
}

type outputTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewOutputBroker creates an empty broker.
func NewOutputBroker() *OutputBroker {
	return &OutputBroker{
		topics: make(map[string]*outputTopic),
	}
}

// Subscribe returns a channel of output chunks for the given task and an
// unsubscribe function. If the topic is closed the channel is closed
// immediately.
func (b *OutputBroker) Subscribe(taskID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &outputTopic{subs: make(map[int]chan string)}
		b.topics[taskID] = t
	}

	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

// Publish sends a chunk to all subscribers of the given task. Chunks are
// dropped for subscribers whose buffers are full.
func (b *OutputBroker) Publish(taskID, chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// Close signals that the task will produce no more output. All subscriber
// channels are closed and future Subscribe calls return a closed channel.
func (b *OutputBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		b.topics[taskID] = &outputTopic{subs: make(map[int]chan string), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
