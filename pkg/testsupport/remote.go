package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/goliatone/go-repository-sync/entity"
)

// FakeRemote is an in-memory REST resource served over httptest. It speaks the
// same protocol the remote client expects and lets tests inject outages,
// latency and forced statuses.
type FakeRemote[P any] struct {
	server   *httptest.Server
	resource string

	mu        sync.Mutex
	items     map[string]entity.Entity[P]
	order     []string
	calls     map[string]int
	outage    bool
	delay     time.Duration
	status    int
	emptyBody bool
}

// NewFakeRemote starts a server for resource. It is closed with the test.
func NewFakeRemote[P any](t testing.TB, resource string) *FakeRemote[P] {
	t.Helper()

	f := &FakeRemote[P]{
		resource: strings.Trim(resource, "/"),
		items:    make(map[string]entity.Entity[P]),
		calls:    make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(f.faults)
	collection := "/" + f.resource
	r.HandleFunc(collection, f.list).Methods(http.MethodGet)
	r.HandleFunc(collection, f.create).Methods(http.MethodPost)
	r.HandleFunc(collection+"/{id}", f.get).Methods(http.MethodGet)
	r.HandleFunc(collection+"/{id}", f.update).Methods(http.MethodPut)
	r.HandleFunc(collection+"/{id}", f.remove).Methods(http.MethodDelete)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server root, to be used as the client's base URL.
func (f *FakeRemote[P]) URL() string { return f.server.URL }

// Resource returns the collection path.
func (f *FakeRemote[P]) Resource() string { return f.resource }

// Put seeds or replaces an entity.
func (f *FakeRemote[P]) Put(items ...entity.Entity[P]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range items {
		f.store(e)
	}
}

// Get returns the entity stored under id.
func (f *FakeRemote[P]) Get(id string) (entity.Entity[P], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[id]
	return e, ok
}

// Remove drops an entity without counting a call.
func (f *FakeRemote[P]) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop(id)
}

// Len returns the number of stored entities.
func (f *FakeRemote[P]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// SetOutage makes every request fail at the transport level: the connection
// is closed without a response.
func (f *FakeRemote[P]) SetOutage(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outage = down
}

// SetDelay holds every request for d before handling it.
func (f *FakeRemote[P]) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// FailWith answers every request with status. Zero restores normal handling.
func (f *FakeRemote[P]) FailWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// SetEmptyBodies makes successful responses carry no body.
func (f *FakeRemote[P]) SetEmptyBodies(empty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptyBody = empty
}

// Calls returns how many requests with method reached the server, faults
// included.
func (f *FakeRemote[P]) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of requests of any method.
func (f *FakeRemote[P]) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// ResetCalls zeroes the call counters.
func (f *FakeRemote[P]) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

func (f *FakeRemote[P]) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method]++
		outage, delay, status := f.outage, f.delay, f.status
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		if outage {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeRemote[P]) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	out := make([]entity.Entity[P], 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.items[id])
	}
	f.mu.Unlock()
	f.reply(w, http.StatusOK, out)
}

func (f *FakeRemote[P]) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	e, ok := f.items[mux.Vars(r)["id"]]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f.reply(w, http.StatusOK, e)
}

func (f *FakeRemote[P]) create(w http.ResponseWriter, r *http.Request) {
	var e entity.Entity[P]
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	f.mu.Lock()
	if _, exists := f.items[e.ID]; exists {
		f.mu.Unlock()
		http.Error(w, "already exists", http.StatusConflict)
		return
	}
	f.store(e)
	f.mu.Unlock()
	f.reply(w, http.StatusCreated, e)
}

func (f *FakeRemote[P]) update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var e entity.Entity[P]
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if e.ID != "" && e.ID != id {
		http.Error(w, "id mismatch", http.StatusUnprocessableEntity)
		return
	}
	e.ID = id

	f.mu.Lock()
	if _, exists := f.items[id]; !exists {
		f.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f.store(e)
	f.mu.Unlock()
	f.reply(w, http.StatusOK, e)
}

func (f *FakeRemote[P]) remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	_, exists := f.items[id]
	f.drop(id)
	f.mu.Unlock()
	if !exists {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeRemote[P]) reply(w http.ResponseWriter, status int, body any) {
	f.mu.Lock()
	empty := f.emptyBody
	f.mu.Unlock()

	if empty {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// store and drop expect f.mu to be held.
func (f *FakeRemote[P]) store(e entity.Entity[P]) {
	e.UpdatedAt = entity.NormalizeTime(e.UpdatedAt)
	if _, exists := f.items[e.ID]; !exists {
		f.order = append(f.order, e.ID)
	}
	f.items[e.ID] = e
}

func (f *FakeRemote[P]) drop(id string) {
	if _, exists := f.items[id]; !exists {
		return
	}
	delete(f.items, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
