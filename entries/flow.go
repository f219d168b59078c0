package entries

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
)

// Flow sources.
const (
	SourceUser      = "user"
	SourceDiscovery = "discovery"
	SourceReauth    = "reauth"
)

// Result types.
const (
	ResultForm        = "form"
	ResultCreateEntry = "create_entry"
	ResultAbort       = "abort"
)

var ErrUnknownFlow = errors.New("unknown flow")

// flowTTL is how long an unfinished flow is kept before expiring.
const flowTTL = 10 * time.Minute

// Field describes one input of a flow form. Secret fields hold credentials
// and should be masked by frontends.
type Field struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret,omitempty"`
	Default  string `json:"default,omitempty"`
}

// Result is a flow step outcome: a form to fill in, a created entry, or an
// abort with a reason code.
type Result struct {
	Type    string            `json:"type"`
	FlowID  string            `json:"flow_id,omitempty"`
	StepID  string            `json:"step_id,omitempty"`
	Schema  []Field           `json:"schema,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Title   string            `json:"title,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	EntryID string            `json:"entry_id,omitempty"`

	UniqueID string            `json:"-"`
	Data     map[string]string `json:"-"`
}

// Form asks the user to (re)fill a step's fields. errs maps field names, or
// "base", to error codes such as "cannot_connect" or "invalid_auth".
func Form(stepID string, schema []Field, errs map[string]string) Result {
	return Result{Type: ResultForm, StepID: stepID, Schema: schema, Errors: errs}
}

// CreateEntry finishes a flow with a configured entry.
func CreateEntry(title, uniqueID string, data map[string]string) Result {
	return Result{Type: ResultCreateEntry, Title: title, UniqueID: uniqueID, Data: data}
}

// Abort ends a flow without an entry.
func Abort(reason string) Result {
	return Result{Type: ResultAbort, Reason: reason}
}

// StepFunc handles one flow step. input is nil when the step is first shown
// and the user's values on submit.
type StepFunc func(flow *Flow, input map[string]string) Result

// Handler is an integration's config flow: its steps by id. Every handler
// has a "user" step; handlers supporting reauthentication add "reauth".
type Handler interface {
	Steps() map[string]StepFunc
}

// Flow is an in-progress config flow.
type Flow struct {
	ID        string            `json:"flow_id"`
	Domain    string            `json:"domain"`
	Source    string            `json:"source"`
	Step      string            `json:"step_id"`
	Discovery map[string]string `json:"discovery,omitempty"`
	EntryID   string            `json:"entry_id,omitempty"`

	handler Handler
	created time.Time
}

var flows = map[string]*Flow{}

func pruneFlows() {
	cutoff := time.Now().Add(-flowTTL)
	for id, flow := range flows {
		if flow.created.Before(cutoff) {
			delete(flows, id)
		}
	}
}

func announceFlow(action string, flow *Flow) {
	if services.Publisher == nil {
		return
	}
	fields := pubsub.Fields{
		"action":  action,
		"flow_id": flow.ID,
		"domain":  flow.Domain,
		"source":  flow.Source,
		"step_id": flow.Step,
	}
	services.Publisher.Emit(pubsub.NewEvent("flow", fields))
}

func newFlow(domain, source, step string) (*Flow, error) {
	mu.Lock()
	defer mu.Unlock()
	pruneFlows()
	integration, ok := integrations[domain]
	if !ok {
		return nil, errors.Errorf("no integration for domain: %s", domain)
	}
	m := integration.Manifest()
	if !m.ConfigFlow {
		return nil, errors.Errorf("%s has no config flow", domain)
	}
	return &Flow{
		ID:      uuid.New().String(),
		Domain:  domain,
		Source:  source,
		Step:    step,
		handler: integration.ConfigFlow(),
		created: time.Now(),
	}, nil
}

// StartFlow begins a user-initiated config flow for an integration,
// returning its first form.
func StartFlow(domain string) (Result, error) {
	flow, err := newFlow(domain, SourceUser, "user")
	if err != nil {
		return Result{}, err
	}
	if integration, _ := IntegrationFor(domain); integration.Manifest().SingleInstance {
		if len(ForDomain(domain)) > 0 {
			return Abort("single_instance_allowed"), nil
		}
	}
	return advance(flow, nil)
}

// StartDiscovery begins a flow for a discovered device. The discovered
// values, typically host and name, prefill the flow's form.
func StartDiscovery(domain string, discovered map[string]string) (Result, error) {
	host := discovered["host"]
	mu.Lock()
	pruneFlows()
	for _, flow := range flows {
		if flow.Domain == domain && flow.Source == SourceDiscovery && flow.Discovery["host"] == host {
			mu.Unlock()
			return Abort("already_in_progress"), nil
		}
	}
	mu.Unlock()
	for _, e := range ForDomain(domain) {
		if host != "" && e.Data["host"] == host {
			return Abort("already_configured"), nil
		}
	}

	flow, err := newFlow(domain, SourceDiscovery, "user")
	if err != nil {
		return Result{}, err
	}
	flow.Discovery = discovered
	return advance(flow, nil)
}

// startReauth begins a reauthentication flow for an entry whose credentials
// stopped working. No-op if one is already running, or the integration's
// flow has no reauth step.
func startReauth(e *Entry) {
	mu.Lock()
	pruneFlows()
	for _, flow := range flows {
		if flow.Source == SourceReauth && flow.EntryID == e.ID {
			mu.Unlock()
			return
		}
	}
	mu.Unlock()

	flow, err := newFlow(e.Domain, SourceReauth, "reauth")
	if err != nil {
		log.Printf("Reauth flow for %s: %s", e.Title, err)
		return
	}
	if _, ok := flow.handler.Steps()["reauth"]; !ok {
		log.Printf("Integration %s does not support reauthentication", e.Domain)
		return
	}
	flow.EntryID = e.ID
	services.SendAlert(fmt.Sprintf("%s needs reauthentication", e.Title), "", "", 0)
	if _, err := advance(flow, nil); err != nil {
		log.Printf("Reauth flow for %s: %s", e.Title, err)
	}
}

// SubmitFlow feeds user input to a flow's current step.
func SubmitFlow(flowID string, input map[string]string) (Result, error) {
	mu.Lock()
	pruneFlows()
	flow, ok := flows[flowID]
	mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownFlow
	}
	if input == nil {
		input = map[string]string{}
	}
	return advance(flow, input)
}

// AbandonFlow discards an in-progress flow.
func AbandonFlow(flowID string) error {
	mu.Lock()
	flow, ok := flows[flowID]
	delete(flows, flowID)
	mu.Unlock()
	if !ok {
		return ErrUnknownFlow
	}
	announceFlow("abandoned", flow)
	return nil
}

// ActiveFlows returns in-progress flows, oldest first.
func ActiveFlows() []*Flow {
	mu.Lock()
	defer mu.Unlock()
	pruneFlows()
	var ret []*Flow
	for _, flow := range flows {
		dup := *flow
		ret = append(ret, &dup)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].created.Before(ret[j].created) })
	return ret
}

// advance runs the flow's current step and acts on its result.
func advance(flow *Flow, input map[string]string) (Result, error) {
	step, ok := flow.handler.Steps()[flow.Step]
	if !ok {
		dropFlow(flow.ID)
		return Result{}, errors.Errorf("flow %s has no step %q", flow.Domain, flow.Step)
	}
	result := step(flow, input)
	result.FlowID = flow.ID

	switch result.Type {
	case ResultForm:
		if result.StepID == "" {
			result.StepID = flow.Step
		}
		flow.Step = result.StepID
		keepFlow(flow)
		return result, nil
	case ResultCreateEntry:
		dropFlow(flow.ID)
		return finish(flow, result)
	case ResultAbort:
		dropFlow(flow.ID)
		announceFlow("aborted", flow)
		return result, nil
	default:
		dropFlow(flow.ID)
		return Result{}, errors.Errorf("flow returned unknown result type: %q", result.Type)
	}
}

func keepFlow(flow *Flow) {
	mu.Lock()
	_, known := flows[flow.ID]
	if !known {
		flows[flow.ID] = flow
	}
	mu.Unlock()
	if !known {
		announceFlow("started", flow)
	}
}

func dropFlow(id string) {
	mu.Lock()
	defer mu.Unlock()
	delete(flows, id)
}

// finish turns a create_entry result into a stored entry, or fresh
// credentials for a reauth flow's entry.
func finish(flow *Flow, result Result) (Result, error) {
	if flow.Source == SourceReauth {
		if err := UpdateData(flow.EntryID, result.Data); err != nil {
			if errors.Cause(err) == ErrUnknownEntry {
				return Result{}, err
			}
			log.Printf("Reload after reauth: %s", err)
		}
		out := Abort("reauth_successful")
		out.FlowID = flow.ID
		announceFlow("finished", flow)
		return out, nil
	}

	if _, dup := ByUniqueID(flow.Domain, result.UniqueID); dup {
		out := Abort("already_configured")
		out.FlowID = flow.ID
		announceFlow("aborted", flow)
		return out, nil
	}
	e := &Entry{
		Domain:   flow.Domain,
		Title:    result.Title,
		UniqueID: result.UniqueID,
		Data:     result.Data,
	}
	if err := Add(e); err != nil {
		return Result{}, err
	}
	announceFlow("finished", flow)
	if err := Setup(e.ID); err != nil {
		log.Printf("Setup after flow: %s", err)
	}
	result.EntryID = e.ID
	return result, nil
}
