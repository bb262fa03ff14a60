package broker

import (
	"errors"
	"sort"
	"sync"
)

var ErrUnknownClient = errors.New("unknown client")

// Registry maps session IDs to the topics each session listens to. Every subscription keeps
// the broker sequence number current when it was registered; only updates with a higher
// number are delivered on it. A session must be added before it can subscribe; Remove drops
// the whole set.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{subs: map[string]map[string]uint64{}}
}

func (r *Registry) Add(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[client]; !ok {
		r.subs[client] = map[string]uint64{}
	}
}

// Subscribe records that client listens to topic from sequence number since onwards.
// Subscribing again to a topic keeps the original mark.
func (r *Registry) Subscribe(client, topic string, since uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[client]
	if !ok {
		return ErrUnknownClient
	}
	if _, ok := set[topic]; !ok {
		set[topic] = since
	}
	return nil
}

// Unsubscribe is a no-op for unknown clients and topics the client never joined.
func (r *Registry) Unsubscribe(client, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[client]; ok {
		delete(set, topic)
	}
}

func (r *Registry) IsSubscribed(client, topic string) bool {
	_, ok := r.Since(client, topic)
	return ok
}

// Since returns the sequence mark of client's subscription to topic.
func (r *Registry) Since(client, topic string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	since, ok := r.subs[client][topic]
	return since, ok
}

func (r *Registry) Remove(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, client)
}

func (r *Registry) Known(client string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[client]
	return ok
}

// Topics returns the client's subscriptions, sorted.
func (r *Registry) Topics(client string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.subs[client]
	out := make([]string, 0, len(set))
	for topic := range set {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of subscribers per topic.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, set := range r.subs {
		for topic := range set {
			out[topic]++
		}
	}
	return out
}
