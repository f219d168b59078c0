package automata

import (
	"strconv"
	"strings"
	"time"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/pkg/errors"
)

var now = func() time.Time { return time.Now() }

const Kitchen24 = "15:04"

// fluxParams describe a light level/colour temperature ramp across a time
// window, eg. flux('19:00->23:00', 'level=90->10', 'temp=3000->2200').
type fluxParams struct {
	tStart time.Time
	tEnd   time.Time
	kStart int
	kEnd   int
	lStart int
	lEnd   int
}

func parseRange(s string) (string, string, error) {
	ps := strings.SplitN(s, "->", 2)
	if len(ps) != 2 {
		return "", "", errors.Errorf("expected 'from->to', got %q", s)
	}
	return ps[0], ps[1], nil
}

func fluxParse(args []interface{}) (fluxParams, error) {
	var p fluxParams
	for _, arg := range args {
		s, ok := arg.(string)
		if !ok {
			return p, errors.Errorf("expected string argument, got %v", arg)
		}
		key := ""
		if i := strings.Index(s, "="); i != -1 {
			key = s[:i]
			s = s[i+1:]
		}
		from, to, err := parseRange(s)
		if err != nil {
			return p, err
		}
		switch key {
		case "":
			if p.tStart, err = time.Parse(Kitchen24, from); err != nil {
				return p, err
			}
			if p.tEnd, err = time.Parse(Kitchen24, to); err != nil {
				return p, err
			}
		case "level":
			if p.lStart, err = strconv.Atoi(from); err != nil {
				return p, err
			}
			if p.lEnd, err = strconv.Atoi(to); err != nil {
				return p, err
			}
		case "temp":
			if p.kStart, err = strconv.Atoi(from); err != nil {
				return p, err
			}
			if p.kEnd, err = strconv.Atoi(to); err != nil {
				return p, err
			}
		default:
			return p, errors.Errorf("unknown flux parameter: %s", key)
		}
	}
	return p, nil
}

// Interpolate an int between a start and end time
func tinterpolate(tStart time.Time, tEnd time.Time, vStart int, vEnd int) int {
	n := now()
	tRef := time.Date(0, 1, 1, n.Hour(), n.Minute(), n.Second(), 0, time.UTC)
	f := tRef.Sub(tStart).Seconds() / tEnd.Sub(tStart).Seconds()
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return int(float64(vEnd-vStart)*f) + vStart
}

func fluxCommand(p fluxParams, entity string) *pubsub.Event {
	fields := pubsub.Fields{
		"topic":   "command",
		"entity":  entity,
		"command": "on",
		"temp":    tinterpolate(p.tStart, p.tEnd, p.kStart, p.kEnd),
		"level":   tinterpolate(p.tStart, p.tEnd, p.lStart, p.lEnd),
	}
	return pubsub.NewEvent("command", fields)
}
