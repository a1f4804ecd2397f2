// Package sync implements the course-calendar reconciliation engine. It
// compares each course's current schedule items against the events already
// present in the shared calendar, applies the minimal diff through the
// calendar provider, records the applied checksum in the state store, and
// broadcasts the resulting sync state.
//
// The package contains four main components:
//
//   - [Reconciler] runs a single reconciliation attempt for one course.
//   - [Scheduler] serializes attempts per course and coalesces triggers.
//   - [Service] exposes the user-facing operations (enable, disable,
//     sync now) and the periodic drift sweep.
//   - [Notifier] broadcasts (courseID, SyncState) transitions.
package sync

import (
	"context"

	"github.com/njoerd114/coursecal/internal/model"
	"github.com/njoerd114/coursecal/internal/state"
)

// CalendarProvider is the narrow capability interface over the platform
// calendar. Implemented by [icscal.Provider] and [reminders.Provider].
//
// Event identity is keyed by (courseID, blockID); the provider persists
// enough metadata per event that ListEventKeys can recover both the key and
// the content hash of what was last written, so the reconciler never stores
// event-ID lists locally.
type CalendarProvider interface {
	HasPermission(ctx context.Context) bool
	RequestPermission(ctx context.Context) (bool, error)
	CreateOrRenameCalendar(ctx context.Context, title string, colorARGB int32) (calendarID string, err error)
	DeleteCalendar(ctx context.Context, calendarID string) error
	CalendarData(ctx context.Context, calendarID string) (*model.CalendarIdentity, error)
	UpsertEvent(ctx context.Context, calendarID, courseID string, item model.ScheduleItem) (eventID string, err error)
	DeleteEvent(ctx context.Context, calendarID, courseID, blockID string) error
	ListEventKeys(ctx context.Context, calendarID, courseID string) ([]model.EventKey, error)
}

// ScheduleSource provides the already-materialized schedule data: per-course
// date items and the enrollment listing. Implemented by [schedule.DirSource].
type ScheduleSource interface {
	Items(ctx context.Context, courseID string) ([]model.ScheduleItem, error)
	Enrollments(ctx context.Context) ([]model.EnrollmentSummary, error)
}

// StateStore provides access to the per-course sync state database.
// Implemented by [state.Store].
type StateStore interface {
	Get(ctx context.Context, courseID string) (*state.Record, error)
	GetAll(ctx context.Context) ([]*state.Record, error)
	Put(ctx context.Context, rec *state.Record) error
	Delete(ctx context.Context, courseID string) error
	ClearAll(ctx context.Context) (newEpoch int64, err error)
	Epoch(ctx context.Context) (int64, error)
	CalendarID(ctx context.Context) (string, error)
	SetCalendarID(ctx context.Context, id string) error
	HideInactive(ctx context.Context) (bool, error)
	SetHideInactive(ctx context.Context, hide bool) error
}
