// Package recurrence expands a series parent and an RFC 5545 RRULE into the
// dates of its child occurrences.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/teambition/rrule-go"

	"github.com/dance-app/api-sub000/internal/apperrors"
)

// DefaultHorizon caps the number of occurrences (parent included) generated for one series.
const DefaultHorizon = 104

var knownParts = map[string]struct{}{
	"FREQ": {}, "INTERVAL": {}, "COUNT": {}, "UNTIL": {}, "WKST": {},
	"BYDAY": {}, "BYMONTHDAY": {}, "BYMONTH": {}, "BYSETPOS": {}, "BYYEARDAY": {},
	"BYWEEKNO": {}, "BYHOUR": {}, "BYMINUTE": {}, "BYSECOND": {},
}

// Base is the first occurrence of a series: the parent event itself.
type Base struct {
	Start    time.Time
	End      *time.Time
	Location *time.Location // nil means UTC
}

// Occurrence is the schedule of one generated child.
type Occurrence struct {
	Start time.Time
	End   *time.Time
}

// Expander turns a base event and a rule into child occurrences.
type Expander struct {
	horizon int
}

// NewExpander returns an Expander that generates at most horizon occurrences
// per series, parent included. horizon < 2 falls back to DefaultHorizon.
func NewExpander(horizon int) *Expander {
	if horizon < 2 {
		horizon = DefaultHorizon
	}
	return &Expander{horizon: horizon}
}

// Horizon returns the occurrence cap.
func (e *Expander) Horizon() int { return e.horizon }

// rule is a validated, normalised RRULE.
type rule struct {
	text  string // upper-cased parts joined by ';', without COUNT
	count int
}

// Validate checks rule syntax and the horizon without expanding it.
func (e *Expander) Validate(text string) error {
	_, err := e.parse(text, time.UTC)
	return err
}

// Expand returns the children of base in ascending order. The parent is the
// first occurrence and is counted by COUNT; children are the rule instances
// strictly after base.Start. Every child keeps the parent's duration. The
// result depends only on (base, text) so re-expansion is reproducible.
func (e *Expander) Expand(base Base, text string) ([]Occurrence, error) {
	if base.Start.IsZero() {
		return nil, apperrors.Validation("date_start", "required")
	}
	loc := base.Location
	if loc == nil {
		loc = time.UTC
	}
	r, err := e.parse(text, loc)
	if err != nil {
		return nil, err
	}

	opt, err := rrule.StrToROptionInLocation(r.text, loc)
	if err != nil {
		return nil, &apperrors.ValidationError{Field: "rrule", Token: text, Message: err.Error()}
	}
	start := base.Start.In(loc)
	opt.Dtstart = start
	opt.Count = 0
	set, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &apperrors.ValidationError{Field: "rrule", Token: text, Message: err.Error()}
	}

	var duration time.Duration
	if base.End != nil {
		duration = base.End.Sub(base.Start)
	}

	limit := e.horizon - 1
	if r.count > 0 {
		limit = r.count - 1
	}
	out := make([]Occurrence, 0, limit)
	next := set.Iterator()
	for len(out) < limit {
		t, ok := next()
		if !ok {
			break
		}
		if !t.After(start) {
			continue
		}
		occ := Occurrence{Start: t.UTC()}
		if base.End != nil {
			end := occ.Start.Add(duration)
			occ.End = &end
		}
		out = append(out, occ)
	}
	return out, nil
}

func (e *Expander) parse(text string, loc *time.Location) (*rule, error) {
	raw := strings.TrimSpace(text)
	if len(raw) >= 6 && strings.EqualFold(raw[:6], "RRULE:") {
		raw = raw[6:]
	}
	raw = strings.Trim(raw, ";")
	if raw == "" {
		return nil, &apperrors.ValidationError{Field: "rrule", Message: "empty rule"}
	}

	seen := make(map[string]string)
	var parts []string
	var freq string
	r := &rule{}
	for _, token := range strings.Split(raw, ";") {
		token = strings.ToUpper(strings.TrimSpace(token))
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" || value == "" {
			return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: "expected KEY=VALUE"}
		}
		if _, known := knownParts[key]; !known {
			return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: "unsupported rule part"}
		}
		if _, dup := seen[key]; dup {
			return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: "duplicate rule part"}
		}
		seen[key] = value

		switch key {
		case "FREQ":
			freq = token
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: "COUNT must be a positive integer"}
			}
			if n > e.horizon {
				return nil, &apperrors.ValidationError{Field: "rrule", Token: token,
					Message: fmt.Sprintf("COUNT exceeds the maximum of %d occurrences", e.horizon)}
			}
			r.count = n
			continue
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: "INTERVAL must be a positive integer"}
			}
		}
		parts = append(parts, token)
	}
	if freq == "" {
		return nil, &apperrors.ValidationError{Field: "rrule", Token: raw, Message: "FREQ is required"}
	}
	if _, hasUntil := seen["UNTIL"]; hasUntil && r.count > 0 {
		return nil, &apperrors.ValidationError{Field: "rrule", Token: "UNTIL=" + seen["UNTIL"], Message: "COUNT and UNTIL are mutually exclusive"}
	}

	// Check each part on its own so the error names the token the library rejects.
	for _, token := range parts {
		probe := token
		if token != freq {
			probe = freq + ";" + token
		}
		if _, err := rrule.StrToROptionInLocation(probe, loc); err != nil {
			return nil, &apperrors.ValidationError{Field: "rrule", Token: token, Message: err.Error()}
		}
	}
	r.text = strings.Join(parts, ";")
	return r, nil
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &apperrors.ValidationError{Field: "timezone", Token: name, Message: "unknown time zone"}
	}
	return loc, nil
}
