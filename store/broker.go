package store

import "sync"

// Broker fans a value out to every subscriber of a key. Publish calls for
// the same key are serialized, so subscribers observe values in publish
// order; callers must publish in commit order to preserve the per-document
// ordering guarantee.
type Broker[T any] struct {
	mu   sync.Mutex
	keys map[string]*brokerKey[T]
	next int
}

type brokerKey[T any] struct {
	mu       sync.Mutex // guards subs
	dispatch sync.Mutex // serializes delivery for the key
	subs     map[int]func(T)
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{keys: make(map[string]*brokerKey[T])}
}

func (b *Broker[T]) key(key string) *brokerKey[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, ok := b.keys[key]
	if !ok {
		k = &brokerKey[T]{subs: make(map[int]func(T))}
		b.keys[key] = k
	}
	return k
}

// Subscribe registers h for key and returns its cancellation handle.
func (b *Broker[T]) Subscribe(key string, h func(T)) Subscription {
	k := b.key(key)
	b.mu.Lock()
	id := b.next
	b.next++
	b.mu.Unlock()

	k.mu.Lock()
	k.subs[id] = h
	k.mu.Unlock()
	return &brokerSub[T]{key: k, id: id}
}

// Publish delivers v to every current subscriber of key, the publisher's own
// subscription included. It returns after all handlers have run.
func (b *Broker[T]) Publish(key string, v T) {
	k := b.key(key)
	k.dispatch.Lock()
	defer k.dispatch.Unlock()

	k.mu.Lock()
	hs := make([]func(T), 0, len(k.subs))
	for _, h := range k.subs {
		hs = append(hs, h)
	}
	k.mu.Unlock()

	fanoutDeliveries.Add(float64(len(hs)))
	for _, h := range hs {
		h(v)
	}
}

// Subscribers reports the number of active subscriptions for key.
func (b *Broker[T]) Subscribers(key string) int {
	k := b.key(key)
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.subs)
}

type brokerSub[T any] struct {
	key  *brokerKey[T]
	once sync.Once
	id   int
}

func (s *brokerSub[T]) Cancel() {
	s.once.Do(func() {
		s.key.mu.Lock()
		delete(s.key.subs, s.id)
		s.key.mu.Unlock()
	})
}
