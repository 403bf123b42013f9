package app

import (
	"fmt"
	"sync"

	"github.com/bft-labs/fieldsync/internal/ports"
)

// observers is an ordered listener list. A panicking listener is logged and
// does not stop delivery to the rest.
type observers[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []observerEntry[T]
	logger  ports.Logger
	name    string
}

type observerEntry[T any] struct {
	id       int
	listener T
}

func newObservers[T any](name string, logger ports.Logger) *observers[T] {
	return &observers[T]{name: name, logger: logger}
}

// add registers l and returns a function removing it.
func (o *observers[T]) add(l T) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.entries = append(o.entries, observerEntry[T]{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, e := range o.entries {
		if e.id == id {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// each calls fn for every listener registered at the time of the call.
func (o *observers[T]) each(fn func(T)) {
	o.mu.Lock()
	snapshot := make([]T, len(o.entries))
	for i, e := range o.entries {
		snapshot[i] = e.listener
	}
	o.mu.Unlock()

	for _, l := range snapshot {
		o.call(fn, l)
	}
}

func (o *observers[T]) call(fn func(T), l T) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panicked",
				ports.String("observers", o.name),
				ports.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(l)
}
