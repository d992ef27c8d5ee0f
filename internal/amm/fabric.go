package amm

import (
	"sync"

	"github.com/amm-sim/tcp-bridge/internal/debug"
)

// Fabric is an in-process publish/subscribe medium. One fabric models one
// bus domain; manikins on separate domains do not see each other's traffic.
// Publications loop back to every subscriber of the topic, including ones
// belonging to the publishing participant, which is how the bridge observes
// its own event-record publications.
type Fabric struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscription
	qLen int
}

const defaultQueueLen = 64

// NewFabric creates a fabric whose participants queue up to queueLen
// samples. Zero or negative selects the default.
func NewFabric(queueLen int) *Fabric {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Fabric{
		subs: make(map[Topic][]*subscription),
		qLen: queueLen,
	}
}

type subscription struct {
	topic Topic
	fn    func(any)
	owner *Participant
}

type delivery struct {
	fn     func(any)
	sample any
}

// publish delivers a sample to every current subscriber of the topic.
// A slow subscriber loses its oldest queued sample rather than blocking
// the publisher.
func (f *Fabric) publish(topic Topic, sample any) {
	f.mu.RLock()
	targets := f.subs[topic]
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.owner.enqueue(delivery{fn: sub.fn, sample: sample})
	}
}

func (f *Fabric) attach(sub *subscription) {
	f.mu.Lock()
	f.subs[sub.topic] = append(f.subs[sub.topic], sub)
	f.mu.Unlock()
}

func (f *Fabric) detach(sub *subscription) {
	f.mu.Lock()
	list := f.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			f.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
}

// Participant is one endpoint on the fabric. All of a participant's
// callbacks run on its single dispatch goroutine in publication order,
// never on the publisher's goroutine, matching the threading model of a
// real bus binding. Ordering across topics is preserved per participant,
// which is what lets an event record land in the correlation cache before
// the modification that references it.
type Participant struct {
	id     string
	fabric *Fabric
	queue  chan delivery
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// Participant creates a named endpoint on this fabric and starts its
// dispatch goroutine.
func (f *Fabric) Participant(id string) *Participant {
	p := &Participant{
		id:     id,
		fabric: f,
		queue:  make(chan delivery, f.qLen),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.dispatch()
	return p
}

// ID returns the participant's bus identity.
func (p *Participant) ID() string {
	return p.id
}

func (p *Participant) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case d := <-p.queue:
			d.fn(d.sample)
		case <-p.done:
			// Drain what already arrived, then stop.
			for {
				select {
				case d := <-p.queue:
					d.fn(d.sample)
				default:
					return
				}
			}
		}
	}
}

// enqueue adds a delivery to the participant's queue, dropping the oldest
// queued sample when full.
func (p *Participant) enqueue(d delivery) {
	select {
	case p.queue <- d:
	default:
		select {
		case <-p.queue:
		default:
		}
		select {
		case p.queue <- d:
		default:
		}
	}
}

// subscribe registers fn for topic.
func (p *Participant) subscribe(topic Topic, fn func(any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	sub := &subscription{topic: topic, fn: fn, owner: p}
	p.subs = append(p.subs, sub)
	p.fabric.attach(sub)
}

// Shutdown detaches every subscription and waits for in-flight callbacks.
// Idempotent.
func (p *Participant) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		p.fabric.detach(sub)
	}
	close(p.done)
	p.wg.Wait()
	debug.Tracef("bus participant %s shut down", p.id)
}
