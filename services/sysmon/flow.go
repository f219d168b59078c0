package sysmon

import (
	"os"

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

// stepUser has nothing to collect, an empty form acts as confirmation.
func (f *configFlow) stepUser(flow *entries.Flow, input map[string]string) entries.Result {
	if input == nil {
		return entries.Form("user", nil, nil)
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "hearth"
	}
	return entries.CreateEntry(hostname, "sysmon", map[string]string{})
}
