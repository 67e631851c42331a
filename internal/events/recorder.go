package events

import (
	"context"
	"sync"
)

// Recorder запоминает опубликованные события. Подставляется вместо брокера,
// когда он не подключён (команды billingctl reconcile и reminders), и в тестах.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

// Publish сохраняет событие или возвращает Err, если он задан.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

// Events возвращает копию опубликованных событий.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType возвращает события указанного типа.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
