package entries

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

const entryPrefix = "hearth/entries"

// Entry states.
const (
	StateNotLoaded  = "not_loaded"
	StateLoaded     = "loaded"
	StateSetupError = "setup_error"
	StateSetupRetry = "setup_retry"
	StateAuthFailed = "auth_failed"
)

var (
	ErrAlreadyConfigured = errors.New("already configured")
	ErrUnknownEntry      = errors.New("unknown entry")
)

// retryDelay is the initial delay before retrying an entry that could not
// connect. Doubles up to retryMax on repeated failures.
var (
	retryDelay = 30 * time.Second
	retryMax   = 5 * time.Minute
)

// Entry is a configured instance of an integration. Data holds what its
// config flow collected, typically connection details and credentials.
type Entry struct {
	ID        string            `json:"id"`
	Domain    string            `json:"domain"`
	Title     string            `json:"title"`
	UniqueID  string            `json:"unique_id,omitempty"`
	Data      map[string]string `json:"data"`
	State     string            `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

func (e *Entry) copy() *Entry {
	dup := *e
	dup.Data = map[string]string{}
	for k, v := range e.Data {
		dup.Data[k] = v
	}
	return &dup
}

var (
	cache         = map[string]*Entry{}
	cancels       = map[string]context.CancelFunc{}
	retryPending  = map[string]bool{}
	setupPending  = map[string]bool{}
	entriesLoaded bool
)

// load restores entries from the store. Persisted runtime state is stale
// after a restart, so entries come back not loaded.
func load() {
	if entriesLoaded {
		return
	}
	entriesLoaded = true
	nodes, err := services.Stor.GetRecursive(entryPrefix)
	if err != nil {
		log.Println("Error loading entries:", err)
		return
	}
	for _, node := range nodes {
		var e Entry
		if err := json.Unmarshal([]byte(node.Value), &e); err != nil {
			log.Printf("Skipping bad entry %s: %s", node.Key, err)
			continue
		}
		e.State = StateNotLoaded
		cache[e.ID] = &e
	}
}

func persist(e *Entry) {
	value, _ := json.Marshal(e)
	if err := services.Stor.Set(entryPrefix+"/"+e.ID, string(value)); err != nil {
		log.Println("Error persisting entry:", err)
	}
}

func announce(action string, e *Entry) {
	if services.Publisher == nil {
		return
	}
	fields := pubsub.Fields{
		"action": action,
		"id":     e.ID,
		"domain": e.Domain,
		"title":  e.Title,
		"state":  e.State,
	}
	services.Publisher.Emit(pubsub.NewEvent("entry", fields))
}

// Add stores a new entry. Entries are unique per (domain, unique id).
func Add(e *Entry) error {
	mu.Lock()
	defer mu.Unlock()
	load()

	if _, ok := integrations[e.Domain]; !ok {
		return errors.Errorf("no integration for domain: %s", e.Domain)
	}
	if e.UniqueID != "" {
		for _, other := range cache {
			if other.Domain == e.Domain && other.UniqueID == e.UniqueID {
				return ErrAlreadyConfigured
			}
		}
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Data == nil {
		e.Data = map[string]string{}
	}
	e.State = StateNotLoaded
	e.CreatedAt = time.Now().UTC()
	cache[e.ID] = e
	persist(e)
	announce("added", e)
	return nil
}

// Get returns a snapshot of an entry.
func Get(id string) (*Entry, bool) {
	mu.Lock()
	defer mu.Unlock()
	load()
	e, ok := cache[id]
	if !ok {
		return nil, false
	}
	return e.copy(), true
}

// All returns snapshots of all entries, oldest first.
func All() []*Entry {
	mu.Lock()
	defer mu.Unlock()
	load()
	var ret []*Entry
	for _, e := range cache {
		ret = append(ret, e.copy())
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// ForDomain returns the entries configured for an integration.
func ForDomain(domain string) []*Entry {
	var ret []*Entry
	for _, e := range All() {
		if e.Domain == domain {
			ret = append(ret, e)
		}
	}
	return ret
}

// ByUniqueID finds the entry for a domain with the given unique id.
func ByUniqueID(domain, uniqueID string) (*Entry, bool) {
	if uniqueID == "" {
		return nil, false
	}
	for _, e := range All() {
		if e.Domain == domain && e.UniqueID == uniqueID {
			return e, true
		}
	}
	return nil, false
}

func setState(id, state string) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := cache[id]
	if !ok {
		return
	}
	e.State = state
	persist(e)
	announce("state", e)
}

// SetupAll sets up every stored entry. Run once at startup, after the
// integrations have been registered.
func SetupAll() {
	for _, e := range All() {
		if err := Setup(e.ID); err != nil {
			log.Printf("Setup %s (%s): %s", e.Title, e.Domain, err)
		}
	}
}

// Setup loads an entry: hands it to its integration and tracks the outcome.
// Connection failures are retried in the background, auth failures start a
// reauth flow.
func Setup(id string) error {
	mu.Lock()
	load()
	e, ok := cache[id]
	if !ok {
		mu.Unlock()
		return ErrUnknownEntry
	}
	if e.State == StateLoaded || setupPending[id] {
		mu.Unlock()
		return nil
	}
	setupPending[id] = true
	defer func() {
		mu.Lock()
		delete(setupPending, id)
		mu.Unlock()
	}()
	integration, ok := integrations[e.Domain]
	if !ok {
		e.State = StateSetupError
		persist(e)
		mu.Unlock()
		return errors.Errorf("no integration for domain: %s", e.Domain)
	}
	snapshot := e.copy()
	ctx, cancel := context.WithCancel(context.Background())
	mu.Unlock()

	err := integration.SetupEntry(ctx, snapshot)
	switch errors.Cause(err) {
	case nil:
		mu.Lock()
		cancels[id] = cancel
		mu.Unlock()
		setState(id, StateLoaded)
		return nil
	case services.ErrAuthFailed:
		cancel()
		setState(id, StateAuthFailed)
		startReauth(snapshot)
		return err
	case services.ErrCannotConnect:
		cancel()
		setState(id, StateSetupRetry)
		scheduleRetry(id, retryDelay)
		return err
	default:
		cancel()
		setState(id, StateSetupError)
		return err
	}
}

func scheduleRetry(id string, delay time.Duration) {
	mu.Lock()
	if retryPending[id] {
		mu.Unlock()
		return
	}
	retryPending[id] = true
	mu.Unlock()

	go func() {
		time.Sleep(delay)
		mu.Lock()
		delete(retryPending, id)
		e, ok := cache[id]
		retry := ok && e.State == StateSetupRetry
		mu.Unlock()
		if !retry {
			return
		}
		log.Printf("Retrying setup of entry %s", id)
		if errors.Cause(Setup(id)) == services.ErrCannotConnect {
			next := delay * 2
			if next > retryMax {
				next = retryMax
			}
			scheduleRetry(id, next)
		}
	}()
}

// Unload stops an entry's integration runtime. The entry stays configured.
func Unload(id string) error {
	mu.Lock()
	load()
	e, ok := cache[id]
	if !ok {
		mu.Unlock()
		return ErrUnknownEntry
	}
	if e.State != StateLoaded {
		mu.Unlock()
		return nil
	}
	integration := integrations[e.Domain]
	snapshot := e.copy()
	cancel := cancels[id]
	delete(cancels, id)
	mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	err := integration.UnloadEntry(ctx, snapshot)
	if cancel != nil {
		cancel()
	}
	setState(id, StateNotLoaded)
	if err != nil {
		log.Printf("Unload %s: %s", id, err)
	}
	return err
}

// Reload unloads and sets up an entry again, picking up changed data.
func Reload(id string) error {
	if err := Unload(id); err != nil {
		return err
	}
	return Setup(id)
}

// UpdateData replaces an entry's data, then reloads it.
func UpdateData(id string, data map[string]string) error {
	mu.Lock()
	load()
	e, ok := cache[id]
	if !ok {
		mu.Unlock()
		return ErrUnknownEntry
	}
	e.Data = map[string]string{}
	for k, v := range data {
		e.Data[k] = v
	}
	persist(e)
	announce("updated", e)
	mu.Unlock()
	return Reload(id)
}

// Remove unloads an entry and deletes it, along with its entities.
func Remove(id string) error {
	if _, ok := Get(id); !ok {
		return ErrUnknownEntry
	}
	Unload(id)

	mu.Lock()
	e := cache[id]
	delete(cache, id)
	mu.Unlock()
	if e == nil {
		return ErrUnknownEntry
	}

	registry.RemoveEntry(id)
	if err := services.Stor.Delete(entryPrefix + "/" + id); err != nil {
		log.Println("Error deleting entry:", err)
	}
	announce("removed", e)
	return nil
}

// NotifyAuthFailure marks an entry as needing new credentials and starts a
// reauth flow. Integrations call this when a previously working entry gets
// auth errors.
func NotifyAuthFailure(id string) {
	e, ok := Get(id)
	if !ok {
		return
	}
	if cancel := takeCancel(id); cancel != nil {
		cancel()
	}
	setState(id, StateAuthFailed)
	startReauth(e)
}

func takeCancel(id string) context.CancelFunc {
	mu.Lock()
	defer mu.Unlock()
	cancel := cancels[id]
	delete(cancels, id)
	return cancel
}

// reset clears all entry and flow state, for tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	integrations = map[string]Integration{}
	cache = map[string]*Entry{}
	cancels = map[string]context.CancelFunc{}
	retryPending = map[string]bool{}
	entriesLoaded = false
	flows = map[string]*Flow{}
}
