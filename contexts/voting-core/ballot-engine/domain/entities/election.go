package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ElectionKind separates the campus-wide SSG election from departmental ones.
type ElectionKind string

const (
	ElectionKindSSG          ElectionKind = "ssg"
	ElectionKindDepartmental ElectionKind = "departmental"
)

func ParseElectionKind(raw string) (ElectionKind, bool) {
	switch ElectionKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ElectionKindSSG:
		return ElectionKindSSG, true
	case ElectionKindDepartmental:
		return ElectionKindDepartmental, true
	default:
		return "", false
	}
}

// ElectionRef identifies exactly one election of exactly one kind.
type ElectionRef struct {
	Kind ElectionKind
	ID   string
}

func NewElectionRef(kind string, id string) (ElectionRef, bool) {
	parsed, ok := ParseElectionKind(kind)
	if !ok || strings.TrimSpace(id) == "" {
		return ElectionRef{}, false
	}
	return ElectionRef{Kind: parsed, ID: strings.TrimSpace(id)}, true
}

func (r ElectionRef) Valid() bool {
	_, ok := ParseElectionKind(string(r.Kind))
	return ok && strings.TrimSpace(r.ID) != ""
}

// Key is the stable "kind:id" form used for map keys and partitioning.
func (r ElectionRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r ElectionRef) String() string {
	return r.Key()
}

// ElectionStatus is owned by the election registry; ballots only read it.
type ElectionStatus string

const (
	ElectionStatusUpcoming  ElectionStatus = "upcoming"
	ElectionStatusActive    ElectionStatus = "active"
	ElectionStatusCompleted ElectionStatus = "completed"
	ElectionStatusCancelled ElectionStatus = "cancelled"
)

func (s ElectionStatus) CanTransition(to ElectionStatus) bool {
	switch s {
	case ElectionStatusUpcoming:
		return to == ElectionStatusActive || to == ElectionStatusCancelled
	case ElectionStatusActive:
		return to == ElectionStatusCompleted || to == ElectionStatusCancelled
	default:
		return false
	}
}

// TimeOfDay is a wall-clock time in the election's configured zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60
}

// BallotWindow is the half-open interval [Open, Close) on the election date.
type BallotWindow struct {
	Open  TimeOfDay
	Close TimeOfDay
}

func (w BallotWindow) Contains(local time.Time) bool {
	second := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return second >= w.Open.seconds() && second < w.Close.seconds()
}

// Election is the registry view consumed by the ballot engine.
type Election struct {
	Ref          ElectionRef
	Title        string
	Status       ElectionStatus
	ElectionDate time.Time
	Window       *BallotWindow
	DepartmentID string
	OfficersOnly bool
}

// AcceptsVotesAt reports whether ballots may be started or submitted at now.
// Window bounds are evaluated in loc; the election date is a calendar date.
func (e Election) AcceptsVotesAt(now time.Time, loc *time.Location) bool {
	if e.Status != ElectionStatusActive {
		return false
	}
	if e.Window == nil {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	year, month, day := e.ElectionDate.Date()
	localYear, localMonth, localDay := local.Date()
	if year != localYear || month != localMonth || day != localDay {
		return false
	}
	return e.Window.Contains(local)
}
