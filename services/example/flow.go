package example

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/services"
)

// DefaultHost prefills the config flow's host field.
const DefaultHost = "192.168.1.100"

type configFlow struct{}

func (self *Service) ConfigFlow() entries.Handler {
	return &configFlow{}
}

func (f *configFlow) Steps() map[string]entries.StepFunc {
	return map[string]entries.StepFunc{
		"user":   f.stepUser,
		"reauth": f.stepReauth,
	}
}

func userSchema(host string) []entries.Field {
	if host == "" {
		host = DefaultHost
	}
	return []entries.Field{
		{Name: "host", Required: true, Default: host},
		{Name: "api_key", Required: true, Secret: true},
	}
}

// validate checks credentials by connecting and fetching device info.
func validate(host, apiKey string) (*DeviceData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := NewClient(host, apiKey)
	if err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	return client.FetchData(ctx)
}

func errorCode(err error) string {
	switch errors.Cause(err) {
	case services.ErrAuthFailed:
		return "invalid_auth"
	case services.ErrCannotConnect:
		return "cannot_connect"
	}
	return "unknown"
}

func (f *configFlow) stepUser(flow *entries.Flow, input map[string]string) entries.Result {
	if input == nil {
		return entries.Form("user", userSchema(flow.Discovery["host"]), nil)
	}

	host, apiKey := input["host"], input["api_key"]
	errs := map[string]string{}
	if host == "" {
		errs["host"] = "required"
	}
	if apiKey == "" {
		errs["api_key"] = "required"
	}
	if len(errs) > 0 {
		return entries.Form("user", userSchema(host), errs)
	}

	data, err := validate(host, apiKey)
	if err != nil {
		return entries.Form("user", userSchema(host), map[string]string{"base": errorCode(err)})
	}
	return entries.CreateEntry(data.Name, data.DeviceID, map[string]string{
		"host":    host,
		"api_key": apiKey,
	})
}

func (f *configFlow) stepReauth(flow *entries.Flow, input map[string]string) entries.Result {
	schema := []entries.Field{{Name: "api_key", Required: true, Secret: true}}
	if input == nil {
		return entries.Form("reauth", schema, nil)
	}
	entry, ok := entries.Get(flow.EntryID)
	if !ok {
		return entries.Abort("unknown_entry")
	}

	apiKey := input["api_key"]
	if apiKey == "" {
		return entries.Form("reauth", schema, map[string]string{"api_key": "required"})
	}
	if _, err := validate(entry.Data["host"], apiKey); err != nil {
		return entries.Form("reauth", schema, map[string]string{"base": errorCode(err)})
	}
	data := map[string]string{}
	for k, v := range entry.Data {
		data[k] = v
	}
	data["api_key"] = apiKey
	return entries.CreateEntry(entry.Title, entry.UniqueID, data)
}
