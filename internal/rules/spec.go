package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sched-systemv1/internal/schedule"
)

// Spec is the wire form of a schedule: a named (date rule, time rule) pair
// that the control channel, the gateway API and schedctl all speak. Compile
// turns it into the rule pair; Sequence turns it straight into a cursor.
type Spec struct {
	Name   string `json:"name"`
	Dates  string `json:"dates"`            // every-day | trading-days | week-starts | month-starts
	Times  string `json:"times"`            // at | after-open | before-close | every
	At     string `json:"at,omitempty"`     // "15:04" wall time, for times=at
	Zone   string `json:"zone,omitempty"`   // IANA zone for times=at, default UTC
	Offset string `json:"offset,omitempty"` // duration, for after-open/before-close/every
}

// Compile resolves the spec into its rule pair.
func (s Spec) Compile() (DateRule, TimeRule, error) {
	if s.Name == "" {
		return nil, nil, fmt.Errorf("rules: spec has no name")
	}

	var dr DateRule
	switch s.Dates {
	case "every-day":
		dr = EveryDay()
	case "trading-days":
		dr = TradingDays()
	case "week-starts":
		dr = WeekStarts()
	case "month-starts":
		dr = MonthStarts()
	default:
		return nil, nil, fmt.Errorf("rules: unknown date rule %q", s.Dates)
	}

	var tr TimeRule
	switch s.Times {
	case "at":
		h, m, err := parseWall(s.At)
		if err != nil {
			return nil, nil, fmt.Errorf("rules: spec %s: %w", s.Name, err)
		}
		loc := time.UTC
		if s.Zone != "" {
			loc, err = time.LoadLocation(s.Zone)
			if err != nil {
				return nil, nil, fmt.Errorf("rules: spec %s: bad zone %q: %w", s.Name, s.Zone, err)
			}
		}
		tr = At(h, m, loc)
	case "after-open", "before-close", "every":
		d, err := time.ParseDuration(s.Offset)
		if err != nil {
			return nil, nil, fmt.Errorf("rules: spec %s: bad offset %q: %w", s.Name, s.Offset, err)
		}
		switch s.Times {
		case "after-open":
			tr = AfterMarketOpen(d)
		case "before-close":
			tr = BeforeMarketClose(d)
		default:
			if d <= 0 {
				return nil, nil, fmt.Errorf("rules: spec %s: interval must be positive", s.Name)
			}
			tr = EveryInterval(d)
		}
	default:
		return nil, nil, fmt.Errorf("rules: unknown time rule %q", s.Times)
	}
	return dr, tr, nil
}

// Sequence compiles the spec and returns its trigger-time cursor from the
// given start.
func (s Spec) Sequence(from time.Time) (schedule.TimeSequence, error) {
	dr, tr, err := s.Compile()
	if err != nil {
		return nil, err
	}
	return Sequence(from, dr, tr), nil
}

// Validate reports whether the spec compiles.
func (s Spec) Validate() error {
	_, _, err := s.Compile()
	return err
}

// JSON serializes the spec for the control channel.
func (s Spec) JSON() ([]byte, error) { return json.Marshal(s) }

// ParseCompact parses the pipe-delimited CLI/env form
// "name|dates|times|arg", e.g. "eod|trading-days|before-close|10m" or
// "report|every-day|at|18:00@Asia/Kolkata".
func ParseCompact(s string) (Spec, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Spec{}, fmt.Errorf("rules: compact spec %q: want name|dates|times|arg", s)
	}
	spec := Spec{Name: parts[0], Dates: parts[1], Times: parts[2]}
	arg := parts[3]
	if spec.Times == "at" {
		if at, zone, ok := strings.Cut(arg, "@"); ok {
			spec.At, spec.Zone = at, zone
		} else {
			spec.At = arg
		}
	} else {
		spec.Offset = arg
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func parseWall(s string) (hour, min int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("bad wall time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err == nil {
		min, err = strconv.Atoi(mm)
	}
	if err != nil || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("bad wall time %q: want HH:MM", s)
	}
	return hour, min, nil
}
