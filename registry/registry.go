// Package registry tracks the entities integrations expose: their metadata,
// their owning devices and their last known state. States persist to the
// store so they survive restarts, and every change is announced on the bus.
package registry

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
)

const (
	statePrefix = "hearth/state/entities"
	idPrefix    = "hearth/registry"
)

// DeviceInfo describes the device an entity belongs to.
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	SwVersion    string      `json:"sw_version,omitempty"`
}

// Entity metadata. Domain is the entity kind (sensor, binary_sensor,
// switch), Category distinguishes diagnostic/config entities from primary
// ones.
type Entity struct {
	ID          string `json:"entity_id"`
	UniqueID    string `json:"unique_id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
	Unit        string `json:"unit_of_measurement,omitempty"`
	Category    string `json:"entity_category,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Precision   int    `json:"-"`
	Device      *DeviceInfo
	owner       string
}

// State is the persisted form, mirroring the usual state object shape.
type State struct {
	EntityID    string        `json:"entity_id"`
	State       string        `json:"state"`
	Attributes  pubsub.Fields `json:"attributes"`
	LastChanged time.Time     `json:"last_changed"`
	LastUpdated time.Time     `json:"last_updated"`
}

var (
	mu        sync.Mutex
	entities  = map[string]*Entity{} // by entity id
	byUnique  = map[string]string{}  // unique id -> entity id
	lastHash  = map[string]uint32{}
	lastState = map[string]State{}
	lastReal  = map[string]State{} // last state other than unavailable
	loaded    bool
)

// load restores the unique id to entity id allocation from the store.
func load() {
	if loaded {
		return
	}
	loaded = true
	nodes, err := services.Stor.GetRecursive(idPrefix)
	if err != nil {
		log.Println("Error loading entity registry:", err)
		return
	}
	for _, node := range nodes {
		uid := strings.TrimPrefix(node.Key, idPrefix+"/")
		byUnique[uid] = node.Value
	}
}

func idTaken(id string) bool {
	if _, ok := entities[id]; ok {
		return true
	}
	for _, allocated := range byUnique {
		if allocated == id {
			return true
		}
	}
	return false
}

// Add registers an entity under the owning config entry and returns its
// assigned entity id. Unique ids keep their entity id across restarts and
// reloads.
func Add(owner string, e Entity) string {
	mu.Lock()
	defer mu.Unlock()
	load()

	if id, ok := byUnique[e.UniqueID]; ok {
		e.ID = id
	} else {
		name := e.Name
		if e.Device != nil {
			name = e.Device.Name + " " + name
		}
		base := e.Domain + "." + util.Slugify(name)
		id := base
		for n := 2; idTaken(id); n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		e.ID = id
		byUnique[e.UniqueID] = id
		services.Stor.Set(idPrefix+"/"+e.UniqueID, id)
	}
	e.owner = owner
	entities[e.ID] = &e

	announce("added", e.ID)
	return e.ID
}

// Get returns entity metadata.
func Get(id string) (Entity, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// All returns registered entities sorted by entity id.
func All() []Entity {
	mu.Lock()
	defer mu.Unlock()
	var ret []Entity
	for _, e := range entities {
		ret = append(ret, *e)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// RemoveEntry drops all entities owned by a config entry, clearing their
// persisted states.
func RemoveEntry(owner string) {
	mu.Lock()
	defer mu.Unlock()
	for id, e := range entities {
		if e.owner != owner {
			continue
		}
		delete(entities, id)
		delete(lastHash, id)
		delete(lastState, id)
		services.Stor.Delete(statePrefix + "/" + id)
		announce("removed", id)
	}
}

func announce(action string, id string) {
	if services.Publisher == nil {
		return
	}
	fields := pubsub.Fields{
		"action": action,
		"entity": id,
	}
	services.Publisher.Emit(pubsub.NewEvent("registry", fields))
}

func attributes(e *Entity, extra pubsub.Fields) pubsub.Fields {
	attrs := pubsub.Fields{}
	name := e.Name
	if e.Device != nil {
		name = e.Device.Name + " " + name
	}
	attrs["friendly_name"] = name
	if e.DeviceClass != "" {
		attrs["device_class"] = e.DeviceClass
	}
	if e.StateClass != "" {
		attrs["state_class"] = e.StateClass
	}
	if e.Unit != "" {
		attrs["unit_of_measurement"] = e.Unit
	}
	if e.Category != "" {
		attrs["entity_category"] = e.Category
	}
	if e.Icon != "" {
		attrs["icon"] = e.Icon
	}
	if e.Device != nil {
		attrs["device"] = e.Device
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return attrs
}

// SetState updates an entity's state, persisting and announcing it if it
// changed. Unknown entities are ignored with a log.
func SetState(id string, state string, extra pubsub.Fields) {
	mu.Lock()
	e, ok := entities[id]
	if !ok {
		mu.Unlock()
		log.Printf("SetState for unknown entity: %s", id)
		return
	}

	attrs := attributes(e, extra)
	sum := stateHash(state, attrs)
	if lastHash[id] == sum {
		mu.Unlock()
		return
	}
	lastHash[id] = sum

	now := time.Now().UTC()
	st := State{
		EntityID:    id,
		State:       state,
		Attributes:  attrs,
		LastChanged: now,
		LastUpdated: now,
	}
	if previous, ok := lastState[id]; ok && previous.State == state {
		st.LastChanged = previous.LastChanged
	}
	lastState[id] = st
	if state != "unavailable" {
		lastReal[id] = st
	}
	value, _ := json.Marshal(st)
	services.Stor.Set(statePrefix+"/"+id, string(value))
	mu.Unlock()

	if services.Publisher != nil {
		ev := pubsub.NewState(id, state, attrs)
		ev.SetRetained(true)
		services.Publisher.Emit(ev)
	}
}

// SetAvailable marks an entity unavailable (state "unavailable") or
// restores its last real state.
func SetAvailable(id string, available bool) {
	if !available {
		SetState(id, "unavailable", nil)
		return
	}
	mu.Lock()
	st, ok := lastReal[id]
	mu.Unlock()
	if ok {
		SetState(id, st.State, nil)
	}
}

// GetState returns the persisted state of an entity.
func GetState(id string) (State, bool) {
	value, err := services.Stor.Get(statePrefix + "/" + id)
	if err != nil {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal([]byte(value), &st); err != nil {
		return State{}, false
	}
	return st, true
}

// States returns all persisted entity states sorted by entity id.
func States() []State {
	nodes, err := services.Stor.GetRecursive(statePrefix)
	if err != nil {
		log.Println("Error reading states:", err)
		return nil
	}
	var ret []State
	for _, node := range nodes {
		var st State
		if err := json.Unmarshal([]byte(node.Value), &st); err != nil {
			continue
		}
		ret = append(ret, st)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].EntityID < ret[j].EntityID })
	return ret
}

// Device groups a device with its entity ids.
type Device struct {
	Info     DeviceInfo `json:"info"`
	Entities []string   `json:"entities"`
}

// Devices returns registered devices and their entities.
func Devices() []Device {
	mu.Lock()
	defer mu.Unlock()
	byKey := map[string]*Device{}
	for id, e := range entities {
		if e.Device == nil {
			continue
		}
		key := fmt.Sprint(e.Device.Identifiers)
		d, ok := byKey[key]
		if !ok {
			d = &Device{Info: *e.Device}
			byKey[key] = d
		}
		d.Entities = append(d.Entities, id)
	}
	var ret []Device
	for _, d := range byKey {
		sort.Strings(d.Entities)
		ret = append(ret, *d)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Info.Name < ret[j].Info.Name })
	return ret
}

// MatchEntities resolves a name to entity ids: an exact entity id matches
// itself, anything else substring matches commandable entities. An empty
// name matches nothing.
func MatchEntities(n string) []string {
	if n == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := entities[n]; ok {
		return []string{n}
	}

	matches := []string{}
	for id, e := range entities {
		if strings.Contains(id, n) && e.Domain == "switch" {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	return matches
}

func stateHash(state string, attrs pubsub.Fields) uint32 {
	value, _ := json.Marshal(map[string]interface{}{"state": state, "attributes": attrs})
	h := fnv.New32a()
	h.Write(value)
	return h.Sum32()
}

// reset clears registry state, for tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	entities = map[string]*Entity{}
	byUnique = map[string]string{}
	lastHash = map[string]uint32{}
	lastState = map[string]State{}
	lastReal = map[string]State{}
	loaded = false
}
