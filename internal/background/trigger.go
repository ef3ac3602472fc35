package background

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// TriggerKind selects what fires a unit.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerEvent    TriggerKind = "event"
)

// MinInterval is the shortest interval a host will accept.
const MinInterval = time.Minute

const oneShotSuffix = "!once"

// Trigger is the condition under which the host activates a unit.
type Trigger struct {
	Kind     TriggerKind
	Interval time.Duration
	Event    string
	OneShot  bool
}

// ParseTrigger accepts "15m", "hourly", "daily", "event:<name>", each
// optionally followed by "!once".
func ParseTrigger(s string) (Trigger, error) {
	raw := strings.TrimSpace(s)
	var t Trigger
	if base, ok := strings.CutSuffix(raw, oneShotSuffix); ok {
		raw = strings.TrimSpace(base)
		t.OneShot = true
	}

	switch lower := strings.ToLower(raw); {
	case lower == "":
		return Trigger{}, fmt.Errorf("trigger is empty")
	case lower == "hourly":
		t.Kind, t.Interval = TriggerInterval, time.Hour
	case lower == "daily":
		t.Kind, t.Interval = TriggerInterval, 24*time.Hour
	case strings.HasPrefix(lower, "event:"):
		name := strings.TrimSpace(raw[len("event:"):])
		if name == "" {
			return Trigger{}, fmt.Errorf("trigger %q: event name is empty", s)
		}
		t.Kind, t.Event = TriggerEvent, name
	default:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Trigger{}, fmt.Errorf("trigger %q: %w", s, err)
		}
		if d < MinInterval {
			return Trigger{}, fmt.Errorf("trigger %q: interval must be at least %s", s, MinInterval)
		}
		t.Kind, t.Interval = TriggerInterval, d
	}
	return t, nil
}

// MustParseTrigger is ParseTrigger for literals.
func MustParseTrigger(s string) Trigger {
	t, err := ParseTrigger(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the canonical form accepted by ParseTrigger.
func (t Trigger) String() string {
	var base string
	switch t.Kind {
	case TriggerEvent:
		base = "event:" + t.Event
	default:
		switch t.Interval {
		case time.Hour:
			base = "hourly"
		case 24 * time.Hour:
			base = "daily"
		default:
			base = t.Interval.String()
		}
	}
	if t.OneShot {
		base += oneShotSuffix
	}
	return base
}

// Fingerprint is a stable digest of the canonical trigger, stored with host
// registrations so a changed trigger can be detected on start.
func (t Trigger) Fingerprint() string {
	sum := blake3.Sum256([]byte(t.String()))
	return hex.EncodeToString(sum[:8])
}
