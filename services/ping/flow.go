package ping

import (
	"github.com/hearth-home/hearth/entries"
)

type configFlow struct{}

func (self *Service) ConfigFlow() entries.Handler {
	return &configFlow{}
}

func (f *configFlow) Steps() map[string]entries.StepFunc {
	return map[string]entries.StepFunc{
		"user": f.stepUser,
	}
}

func schema(host string) []entries.Field {
	return []entries.Field{
		{Name: "host", Required: true, Default: host},
	}
}

func (f *configFlow) stepUser(flow *entries.Flow, input map[string]string) entries.Result {
	if input == nil {
		return entries.Form("user", schema(flow.Discovery["host"]), nil)
	}
	host := input["host"]
	if host == "" {
		return entries.Form("user", schema(""), map[string]string{"host": "required"})
	}
	if _, err := pingOnce(host); err != nil {
		return entries.Form("user", schema(host), map[string]string{"base": "cannot_connect"})
	}
	return entries.CreateEntry(host, host, map[string]string{"host": host})
}
