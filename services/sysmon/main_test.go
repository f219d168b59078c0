package sysmon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/services"
)

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	var _ entries.Integration = (*Service)(nil)
	// Output:
}

func TestManifest(t *testing.T) {
	service := &Service{}
	assert.NoError(t, service.Manifest().Validate())
	assert.True(t, service.Manifest().SingleInstance)
}

const statBoot = `cpu  100 0 100 800 0 0 0 0 0 0
cpu0 100 0 100 800 0 0 0 0 0 0
intr 0
ctxt 0
btime 1700000000
processes 100
procs_running 1
procs_blocked 0
`

// 100 busy, 100 idle since statBoot: 50% over the window
const statLater = `cpu  150 0 150 900 0 0 0 0 0 0
cpu0 150 0 150 900 0 0 0 0 0 0
intr 0
ctxt 0
btime 1700000000
processes 100
procs_running 1
procs_blocked 0
`

const meminfo = `MemTotal:       1000 kB
MemFree:         200 kB
MemAvailable:    400 kB
`

func writeProc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func setupProc(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	oldStat, oldMem, oldLoad, oldUp := procStat, procMeminfo, procLoadavg, procUptime
	procStat = writeProc(t, dir, "stat", statBoot)
	procMeminfo = writeProc(t, dir, "meminfo", meminfo)
	procLoadavg = writeProc(t, dir, "loadavg", "0.50 0.60 0.70 1/973 12345\n")
	procUptime = writeProc(t, dir, "uptime", "3600.00 7200.00\n")
	t.Cleanup(func() {
		procStat, procMeminfo, procLoadavg, procUptime = oldStat, oldMem, oldLoad, oldUp
	})
}

func TestSample(t *testing.T) {
	setupProc(t)
	rt := &runtime{}

	s, err := rt.sample()
	require.NoError(t, err)
	assert.InDelta(t, 20, s.CPUPercent, 0.1) // 200 busy of 1000 since boot
	assert.InDelta(t, 60, s.MemoryPercent, 0.1)
	assert.InDelta(t, 0.5, s.Load1m, 0.001)
	assert.Equal(t, int64(3600), s.Uptime)
}

func TestCPUPercentDelta(t *testing.T) {
	setupProc(t)
	rt := &runtime{}

	_, err := rt.sample()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(procStat, []byte(statLater), 0644))
	s, err := rt.sample()
	require.NoError(t, err)
	assert.InDelta(t, 50, s.CPUPercent, 0.1)
}

func TestSampleMissingProc(t *testing.T) {
	setupProc(t)
	procStat = filepath.Join(t.TempDir(), "missing")
	rt := &runtime{}

	_, err := rt.sample()
	assert.Error(t, err)
}

func TestQueryStatusUnconfigured(t *testing.T) {
	service := &Service{}
	assert.Equal(t, "not configured", service.queryStatus(services.Question{}))
}
