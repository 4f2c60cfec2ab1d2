// Package threads assigns sequential ids to the threads found in a browser
// trace and finds the main thread of the page.
package threads

import (
	"strings"

	"github.com/sarchlab/tracetree/traceevent"
)

// DefaultLocalServerPrefix is the address of the local instrumentation
// server that drives the browser during a test. Requests to it are issued
// by the test harness, so the thread that sends them is not the page's main
// thread and is never tracked.
const DefaultLocalServerPrefix = "http://127.0.0.1:8888"

const (
	mainThreadTrigger = "ResourceSendRequest"
	browserProgram    = "Program"
)

// A Thread is a tracked thread.
type Thread struct {
	Key  traceevent.ThreadKey `json:"key"`
	ID   int                  `json:"id"`
	Main bool                 `json:"main"`
}

// Registry decides which threads are tracked and numbers them. Numbering
// starts only once the main thread is known, so the main thread always
// gets id 0.
type Registry struct {
	localServerPrefix string

	mainThread    traceevent.ThreadKey
	hasMainThread bool
	ignored       map[traceevent.ThreadKey]bool
	ids           map[traceevent.ThreadKey]int
	order         []traceevent.ThreadKey
}

// NewRegistry creates an empty Registry. Threads that request URLs starting
// with localServerPrefix before the main thread is found are ignored.
func NewRegistry(localServerPrefix string) *Registry {
	return &Registry{
		localServerPrefix: localServerPrefix,
		ignored:           make(map[traceevent.ThreadKey]bool),
		ids:               make(map[traceevent.ThreadKey]int),
	}
}

// Admit looks at a timeline record emitted by the thread and returns
// whether the thread is tracked. The first ResourceSendRequest to a URL
// outside the local instrumentation server marks its thread as the main
// thread; a record of that kind without a duration gets a duration of 1.
func (r *Registry) Admit(rec *traceevent.Record, key traceevent.ThreadKey) bool {
	if !r.hasMainThread && rec.Name() == mainThreadTrigger {
		if url, ok := rec.RequestURL(); ok {
			r.considerMainThread(rec, key, url)
		}
	}

	if r.hasMainThread &&
		!r.isRegistered(key) &&
		!r.ignored[key] &&
		rec.Name() != browserProgram {
		r.register(key)
	}

	return r.isRegistered(key)
}

func (r *Registry) considerMainThread(
	rec *traceevent.Record,
	key traceevent.ThreadKey,
	url string,
) {
	if strings.HasPrefix(url, r.localServerPrefix) {
		r.ignored[key] = true
		return
	}

	if !r.isRegistered(key) {
		r.register(key)
	}

	r.mainThread = key
	r.hasMainThread = true

	if !rec.HasDuration() {
		rec.SetDuration(1)
	}
}

func (r *Registry) register(key traceevent.ThreadKey) {
	r.ids[key] = len(r.order)
	r.order = append(r.order, key)
}

func (r *Registry) isRegistered(key traceevent.ThreadKey) bool {
	_, ok := r.ids[key]
	return ok
}

// ID returns the id of a tracked thread.
func (r *Registry) ID(key traceevent.ThreadKey) (int, bool) {
	id, ok := r.ids[key]
	return id, ok
}

// MainThread returns the main thread, if it has been found.
func (r *Registry) MainThread() (traceevent.ThreadKey, bool) {
	return r.mainThread, r.hasMainThread
}

// IsIgnored tells if the thread will never be tracked.
func (r *Registry) IsIgnored(key traceevent.ThreadKey) bool {
	return r.ignored[key]
}

// Len returns the number of tracked threads.
func (r *Registry) Len() int {
	return len(r.order)
}

// Threads lists the tracked threads ordered by id.
func (r *Registry) Threads() []Thread {
	threads := make([]Thread, 0, len(r.order))
	for id, key := range r.order {
		threads = append(threads, Thread{
			Key:  key,
			ID:   id,
			Main: r.hasMainThread && key == r.mainThread,
		})
	}

	return threads
}
