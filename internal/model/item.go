// Package model defines shared types used across the sync engine, the
// schedule source, and the calendar providers.
package model

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Kind classifies a schedule item the way the course platform does.
type Kind int

const (
	// KindEvent is a generic dated event with no more specific type.
	KindEvent Kind = iota
	// KindAssignmentDue marks an assignment deadline.
	KindAssignmentDue
	// KindCourseStart marks the course start date.
	KindCourseStart
	// KindCourseEnd marks the course end date.
	KindCourseEnd
	// KindCertificateAvailable marks when the course certificate unlocks.
	KindCertificateAvailable
	// KindVerificationDeadline marks the identity-verification cutoff.
	KindVerificationDeadline
)

// String returns the platform wire name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAssignmentDue:
		return "assignment-due-date"
	case KindCourseStart:
		return "course-start-date"
	case KindCourseEnd:
		return "course-end-date"
	case KindCertificateAvailable:
		return "certificate-available-date"
	case KindVerificationDeadline:
		return "verification-deadline-date"
	default:
		return "event"
	}
}

// KindFromString maps a platform wire name to a Kind. Unknown names are
// treated as generic events.
func KindFromString(s string) Kind {
	switch s {
	case "assignment-due-date":
		return KindAssignmentDue
	case "course-start-date":
		return KindCourseStart
	case "course-end-date":
		return KindCourseEnd
	case "certificate-available-date":
		return KindCertificateAvailable
	case "verification-deadline-date":
		return KindVerificationDeadline
	default:
		return KindEvent
	}
}

// ScheduleItem is one deadline/date entry belonging to a course, as
// materialized from the course platform. Uniquely identified by BlockID
// within its course.
type ScheduleItem struct {
	// BlockID is the stable identifier of the course block this date
	// belongs to.
	BlockID string

	// Title is the item's display title.
	Title string

	// Description is the item's body text, shown in the calendar event.
	Description string

	// DueAt is when the item is due.
	DueAt time.Time

	// Kind classifies the date (assignment due, course start, ...).
	Kind Kind

	// AssignmentLabel is the platform's assignment-type label, if any.
	AssignmentLabel string

	// LearnerHasAccess is false for gated content. Gated items are never
	// materialized as calendar events.
	LearnerHasAccess bool

	// DeepLink points back into the course content for this item.
	DeepLink string
}

// ContentHash returns a deterministic 64-bit digest of the fields that matter
// for change detection: block ID, title, description, due time, kind, and
// learner access. The deep link and assignment label are excluded — they do
// not affect what the calendar shows as a deadline.
func (i *ScheduleItem) ContentHash() int64 {
	h := sha256.New()
	h.Write([]byte(i.BlockID))
	h.Write([]byte("|"))
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write([]byte(i.Description))
	h.Write([]byte("|"))
	h.Write([]byte(i.DueAt.UTC().Format(time.RFC3339)))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d", i.Kind)
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%t", i.LearnerHasAccess)
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Fingerprint combines the per-item content hashes of a schedule into a single
// order-independent checksum. Two fetches returning the same set in different
// order produce the same value; any change to a change-relevant field, or an
// addition or removal, changes it with overwhelming probability. The empty
// schedule fingerprints to 0.
func Fingerprint(items []ScheduleItem) int64 {
	var sum int64
	for idx := range items {
		// Wrapping addition keeps the reducer associative and commutative.
		sum += items[idx].ContentHash()
	}
	return sum
}

// EventKey identifies a calendar event belonging to a course, as recoverable
// from the calendar provider without any locally stored event-ID list. The
// content hash lets the reconciler skip events that are already up to date.
type EventKey struct {
	BlockID     string
	ContentHash int64
}

// SyncState is the derived synchronization state of a single course.
type SyncState int

const (
	// StateOffline means sync is disabled for the course or calendar
	// permission is absent.
	StateOffline SyncState = iota
	// StateSynchronizing means a reconciliation attempt is in flight.
	StateSynchronizing
	// StateSynced means the last attempt succeeded and the stored checksum
	// matches the current schedule.
	StateSynced
	// StateSyncFailed means the last attempt failed; it will be retried on
	// the next trigger or periodic sweep.
	StateSyncFailed
)

// String returns the lowercase label for the state.
func (s SyncState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateSynchronizing:
		return "synchronizing"
	case StateSynced:
		return "synced"
	case StateSyncFailed:
		return "sync_failed"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// CalendarIdentity describes the shared user calendar that holds all course
// events.
type CalendarIdentity struct {
	CalendarID string
	Title      string
	ColorARGB  int32
}

// EnrollmentSummary is the read-only course listing entry used to decide
// which courses are eligible for sync. It does not affect reconciliation.
type EnrollmentSummary struct {
	CourseID       string
	CourseName     string
	RecentlyActive bool
}
