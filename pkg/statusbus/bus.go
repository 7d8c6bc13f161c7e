// Package statusbus fans out view-load state changes to the browser
// sessions watching them.
package statusbus

import "context"

// Event reports that a load of one session entered State.
type Event struct {
	Session    string `json:"session"`
	Generation uint64 `json:"generation"`
	State      string `json:"state"`
	ViewID     string `json:"viewID,omitempty"`
	Error      string `json:"error,omitempty"`
	At         int64  `json:"at"`
}

// Bus fan-outs events to subscribers without locks. A single goroutine owns
// the listener table; producers and consumers only talk to it over channels.
type Bus struct {
	publish     chan Event
	subscribe   chan subscription
	unsubscribe chan subscription
}

type subscription struct {
	session string
	ch      chan Event
}

// NewBus starts the fan-out goroutine. It lives as long as the process;
// subscribers are pruned when their contexts end.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan Event, buffer),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
	}

	go b.run()
	return b
}

// Publish forwards e to listeners of e.Session. Events are dropped rather
// than blocking when the bus or a listener is full; a late page refresh
// recovers the current state from the next event.
func (b *Bus) Publish(e Event) {
	select {
	case b.publish <- e:
	default:
	}
}

// Subscribe registers interest in one session's events.
// The returned channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, session string, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	req := subscription{session: session, ch: ch}

	b.subscribe <- req

	go func() {
		<-ctx.Done()
		b.unsubscribe <- req
		close(ch)
	}()

	return ch
}

func (b *Bus) run() {
	listeners := make(map[string][]chan Event)

	for {
		select {
		case req := <-b.subscribe:
			listeners[req.session] = append(listeners[req.session], req.ch)
		case req := <-b.unsubscribe:
			chans := listeners[req.session]
			filtered := chans[:0]
			for _, existing := range chans {
				if existing != req.ch {
					filtered = append(filtered, existing)
				}
			}
			if len(filtered) == 0 {
				delete(listeners, req.session)
			} else {
				listeners[req.session] = filtered
			}
		case e := <-b.publish:
			for _, ch := range listeners[e.Session] {
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
}
