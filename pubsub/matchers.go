package pubsub

import "strings"

// Prefix matches a topic and everything beneath it ("state" matches
// "state/sensor.x").
type PrefixTopic struct {
	Prefix string
}

func Prefix(prefix string) *PrefixTopic {
	return &PrefixTopic{prefix}
}

func (t *PrefixTopic) Match(topic string) bool {
	return t.Prefix == topic || strings.HasPrefix(topic, t.Prefix+"/")
}

type AllTopic struct{}

func All() *AllTopic {
	return &AllTopic{}
}

func (t *AllTopic) Match(topic string) bool {
	return true
}

type ExactTopic struct {
	Exact string
}

func Exact(exact string) *ExactTopic {
	return &ExactTopic{exact}
}

func (t *ExactTopic) Match(topic string) bool {
	return t.Exact == topic
}

// Prefixes builds prefix matchers for a list of topic names, so "state"
// covers "state/sensor.x" too.
func Prefixes(names []string) []Topic {
	var ret []Topic
	for _, name := range names {
		ret = append(ret, Prefix(name))
	}
	return ret
}
