// Package recurrence parses and expands RFC 5545 recurrence rules for lesson
// templates. Rules expand to calendar days; the wall-clock time of a lesson is
// applied by the caller.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	utcLayout   = "20060102T150405Z"
	localLayout = "20060102T150405"
	dateLayout  = "20060102"
)

// ErrEmptyRule is returned when the recurrence text is blank.
var ErrEmptyRule = errors.New("recurrence rule is empty")

// ParseError reports a template whose recurrence text cannot be used.
type ParseError struct {
	TemplateID string
	Spec       string
	Err        error
}

func (e *ParseError) Error() string {
	if e.TemplateID != "" {
		return fmt.Sprintf("template %s: invalid recurrence %q: %v", e.TemplateID, e.Spec, e.Err)
	}
	return fmt.Sprintf("invalid recurrence %q: %v", e.Spec, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type part struct {
	key   string
	value string
}

// Rule is a parsed recurrence rule. It keeps the original part order so that
// String reproduces untouched rules verbatim.
type Rule struct {
	loc       *time.Location
	parts     []part
	anchor    time.Time
	anchorRaw string
	opt       rrule.ROption
}

// Parse reads a recurrence rule in any of the accepted forms: a bare RRULE
// value, an "RRULE:" line, a "DTSTART...\nRRULE:..." block, or an RRULE with
// an inline DTSTART part. Floating times are read in loc.
func Parse(spec string, loc *time.Location) (*Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	text := strings.TrimSpace(spec)
	if text == "" {
		return nil, &ParseError{Spec: spec, Err: ErrEmptyRule}
	}

	r := &Rule{loc: loc}
	var ruleLine string
	for _, line := range splitLines(text) {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DTSTART"):
			anchor, err := parseDTStartLine(line, loc)
			if err != nil {
				return nil, &ParseError{Spec: spec, Err: err}
			}
			r.anchor = anchor
			r.anchorRaw = line
		case strings.HasPrefix(upper, "RRULE:"):
			if ruleLine != "" {
				return nil, &ParseError{Spec: spec, Err: errors.New("multiple RRULE lines")}
			}
			ruleLine = line[len("RRULE:"):]
		case strings.HasPrefix(upper, "EXDATE"), strings.HasPrefix(upper, "RDATE"), strings.HasPrefix(upper, "EXRULE"):
			return nil, &ParseError{Spec: spec, Err: fmt.Errorf("unsupported property %q", line)}
		default:
			if ruleLine != "" {
				return nil, &ParseError{Spec: spec, Err: fmt.Errorf("unexpected line %q", line)}
			}
			ruleLine = line
		}
	}
	if strings.TrimSpace(ruleLine) == "" {
		return nil, &ParseError{Spec: spec, Err: errors.New("missing RRULE")}
	}

	for _, raw := range strings.Split(ruleLine, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		kv := strings.SplitN(raw, "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			return nil, &ParseError{Spec: spec, Err: fmt.Errorf("malformed part %q", raw)}
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		if key == "DTSTART" {
			if !r.anchor.IsZero() {
				return nil, &ParseError{Spec: spec, Err: errors.New("DTSTART given twice")}
			}
			anchor, err := parseDateTime(kv[1], loc)
			if err != nil {
				return nil, &ParseError{Spec: spec, Err: err}
			}
			r.anchor = anchor
			r.anchorRaw = "DTSTART=" + kv[1]
			continue
		}
		r.parts = append(r.parts, part{key: key, value: strings.TrimSpace(kv[1])})
	}

	if err := r.compile(); err != nil {
		return nil, &ParseError{Spec: spec, Err: err}
	}
	return r, nil
}

// Build creates a weekly rule on the given weekdays starting at anchor.
// A non-nil until bounds the series inclusively by calendar day.
func Build(weekdays []time.Weekday, anchor time.Time, until *time.Time, loc *time.Location) (*Rule, error) {
	if len(weekdays) == 0 {
		return nil, errors.New("at least one weekday is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	r := &Rule{loc: loc, parts: []part{{key: "FREQ", value: "WEEKLY"}, {key: "BYDAY", value: weekdayList(weekdays)}}}
	r.setAnchor(anchor)
	if until != nil {
		r.setUntil(*until)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rule) compile() error {
	hasFreq := false
	values := make([]string, 0, len(r.parts))
	for _, p := range r.parts {
		if p.key == "FREQ" {
			hasFreq = true
		}
		values = append(values, p.key+"="+p.value)
	}
	if !hasFreq {
		return errors.New("FREQ is required")
	}
	opt, err := rrule.StrToROptionInLocation(strings.Join(values, ";"), r.loc)
	if err != nil {
		return err
	}
	r.opt = *opt
	return nil
}

// Location is the zone floating times are read in.
func (r *Rule) Location() *time.Location { return r.loc }

// Anchor returns the series start carried by the rule itself.
func (r *Rule) Anchor() (time.Time, bool) {
	return r.anchor, !r.anchor.IsZero()
}

// Until returns the inclusive end bound, if any. The bound is compared
// against local midnights: a day whose midnight is at or before Until is
// produced even when the anchor's time of day on that day falls after it.
func (r *Rule) Until() (time.Time, bool) {
	return r.opt.Until, !r.opt.Until.IsZero()
}

// Weekly reports whether the rule repeats weekly.
func (r *Rule) Weekly() bool { return r.opt.Freq == rrule.WEEKLY }

// Weekdays lists BYDAY days in rule order.
func (r *Rule) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, len(r.opt.Byweekday))
	for _, wd := range r.opt.Byweekday {
		days = append(days, time.Weekday((wd.Day()+1)%7))
	}
	return days
}

// WithAnchor returns a copy of the rule starting at anchor.
func (r *Rule) WithAnchor(anchor time.Time) *Rule {
	c := r.clone()
	c.setAnchor(anchor)
	return c
}

// WithUntil returns a copy bounded by until; nil clears the bound.
func (r *Rule) WithUntil(until *time.Time) (*Rule, error) {
	c := r.clone()
	c.dropPart("UNTIL")
	if until != nil {
		c.dropPart("COUNT")
		c.setUntil(*until)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithWeekdays returns a copy repeating on the given weekdays.
func (r *Rule) WithWeekdays(weekdays []time.Weekday) (*Rule, error) {
	if len(weekdays) == 0 {
		return nil, errors.New("at least one weekday is required")
	}
	c := r.clone()
	replaced := false
	for i, p := range c.parts {
		if p.key == "BYDAY" {
			c.parts[i].value = weekdayList(weekdays)
			replaced = true
		}
	}
	if !replaced {
		c.parts = append(c.parts, part{key: "BYDAY", value: weekdayList(weekdays)})
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// String serialises the rule. Untouched rules round-trip part for part.
func (r *Rule) String() string {
	values := make([]string, 0, len(r.parts))
	for _, p := range r.parts {
		values = append(values, p.key+"="+p.value)
	}
	body := strings.Join(values, ";")
	switch {
	case r.anchorRaw == "":
		return body
	case strings.HasPrefix(r.anchorRaw, "DTSTART="):
		return body + ";" + r.anchorRaw
	default:
		return r.anchorRaw + "\nRRULE:" + body
	}
}

// Expand returns the local midnight of every day in the inclusive range
// [day of from, to] matched by the rule. A rule without its own anchor starts
// on the day of from.
func (r *Rule) Expand(from, to time.Time) []time.Time {
	days, _ := r.ExpandN(from, to, 0)
	return days
}

// ExpandN is Expand capped at max days; truncated reports whether the cap hit.
// A max of zero or less means no cap.
func (r *Rule) ExpandN(from, to time.Time, max int) (days []time.Time, truncated bool) {
	if to.Before(from) {
		return nil, false
	}
	lower := midnight(from, r.loc)
	anchor := lower
	if !r.anchor.IsZero() {
		anchor = midnight(r.anchor, r.loc)
	}
	opt := r.opt
	opt.Dtstart = anchor
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, false
	}
	if max <= 0 {
		return rule.Between(lower, to, true), false
	}

	iter := rule.Iterator()
	for {
		t, ok := iter()
		if !ok || t.After(to) {
			return days, false
		}
		if t.Before(lower) {
			continue
		}
		if len(days) == max {
			return days, true
		}
		days = append(days, t)
	}
}

func (r *Rule) clone() *Rule {
	c := *r
	c.parts = append([]part(nil), r.parts...)
	return &c
}

func (r *Rule) dropPart(key string) {
	kept := r.parts[:0]
	for _, p := range r.parts {
		if p.key != key {
			kept = append(kept, p)
		}
	}
	r.parts = kept
}

func (r *Rule) setAnchor(anchor time.Time) {
	local := anchor.In(r.loc)
	r.anchor = local
	r.anchorRaw = fmt.Sprintf("DTSTART;TZID=%s:%s", r.loc.String(), local.Format(localLayout))
}

func (r *Rule) setUntil(until time.Time) {
	day := midnight(until, r.loc)
	end := day.AddDate(0, 0, 1).Add(-time.Second)
	r.parts = append(r.parts, part{key: "UNTIL", value: end.UTC().Format(utcLayout)})
}

func parseDTStartLine(line string, loc *time.Location) (time.Time, error) {
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return time.Time{}, fmt.Errorf("malformed DTSTART %q", line)
	}
	params, value := line[:idx], line[idx+1:]
	zone := loc
	for _, param := range strings.Split(params, ";")[1:] {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 || !strings.EqualFold(kv[0], "TZID") {
			continue
		}
		if kv[1] == loc.String() {
			continue
		}
		tz, err := time.LoadLocation(kv[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q: %w", kv[1], err)
		}
		zone = tz
	}
	return parseDateTime(value, zone)
}

func parseDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(utcLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localLayout, value, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("malformed date-time %q", value)
}

func splitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func weekdayList(days []time.Weekday) string {
	codes := make([]string, 0, len(days))
	seen := make(map[time.Weekday]struct{}, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		codes = append(codes, weekdayCodes[d])
	}
	return strings.Join(codes, ",")
}

// ParseWeekday reads a two-letter RFC 5545 day code or an English day name.
func ParseWeekday(s string) (time.Weekday, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, code := range weekdayCodes {
		if upper == code || upper == strings.ToUpper(time.Weekday(i).String()) {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
