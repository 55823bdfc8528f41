package event

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LocalPublisher delivers events to in-process subscribers synchronously.
// Events go through the same wire codec as the NATS publisher.
type LocalPublisher struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(*Event)
	nextID int
	closed bool
}

// NewLocal return new LocalPublisher instance.
func NewLocal() *LocalPublisher {
	return &LocalPublisher{subs: make(map[string]map[int]func(*Event))}
}

// Publish serializes the event and hands a decoded copy to every subscriber.
func (p *LocalPublisher) Publish(subject string, evt *Event) error {
	msg, err := evt.MarshalJSON()
	if err != nil {
		return err
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	fns := make([]func(*Event), 0, len(p.subs[subject]))
	for _, fn := range p.subs[subject] {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		var out Event
		if err := out.UnmarshalJSON(msg); err != nil {
			return err
		}
		fn(&out)
	}
	logrus.WithField("subject", subject).
		WithField("rel_id", evt.RelID).
		Debugln("event was send")
	return nil
}

// Subscribe registers fn for subject.
func (p *LocalPublisher) Subscribe(subject string, fn func(*Event)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[subject] == nil {
		p.subs[subject] = make(map[int]func(*Event))
	}
	id := p.nextID
	p.nextID++
	p.subs[subject][id] = fn
	return &localSubscription{p: p, subject: subject, id: id}, nil
}

// Close drops all subscribers.
func (p *LocalPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[string]map[int]func(*Event))
	p.mu.Unlock()
	return nil
}

type localSubscription struct {
	p       *LocalPublisher
	subject string
	id      int
}

func (s *localSubscription) Unsubscribe() error {
	s.p.mu.Lock()
	delete(s.p.subs[s.subject], s.id)
	s.p.mu.Unlock()
	return nil
}
