package services

// Store is shared persistent state: config entries, entity state snapshots
// and automata state live here, namespaced under hearth/.
type Store interface {
	Set(key string, value string) error
	SetWithTTL(key string, value string, ttl uint64) error
	Get(key string) (string, error)
	Delete(key string) error
	GetRecursive(prefix string) ([]Node, error)
}

type Node struct {
	Key   string
	Value string
}
