package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/coursecal/internal/model"
	"github.com/njoerd114/coursecal/internal/state"
)

// CourseListing is one row of the "courses to sync" listing: an enrollment
// joined with its stored sync flag.
type CourseListing struct {
	model.EnrollmentSummary
	SyncEnabled bool
}

// Service exposes the user-facing sync operations. All mutations flow through
// the state store and the Scheduler; the Service itself holds no state beyond
// its collaborators.
type Service struct {
	provider   CalendarProvider
	source     ScheduleSource
	store      StateStore
	notifier   *Notifier
	sched      *Scheduler
	reconciler *Reconciler
	log        *slog.Logger
}

// NewService wires a Service from its collaborators.
func NewService(provider CalendarProvider, source ScheduleSource, store StateStore, notifier *Notifier, sched *Scheduler, reconciler *Reconciler, logger *slog.Logger) *Service {
	return &Service{
		provider:   provider,
		source:     source,
		store:      store,
		notifier:   notifier,
		sched:      sched,
		reconciler: reconciler,
		log:        logger,
	}
}

// EnableGlobalSync acquires calendar permission if needed, creates (or
// renames) the shared calendar, re-opens the scheduler, and kicks off a
// sweep. Returns [model.ErrPermissionDenied] when the user declines access.
func (s *Service) EnableGlobalSync(ctx context.Context, title string, colorARGB int32) error {
	if !s.provider.HasPermission(ctx) {
		ok, err := s.provider.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("requesting calendar permission: %w", err)
		}
		if !ok {
			return model.ErrPermissionDenied
		}
	}

	calendarID, err := s.provider.CreateOrRenameCalendar(ctx, title, colorARGB)
	if err != nil {
		return fmt.Errorf("creating shared calendar: %w", err)
	}
	if err := s.store.SetCalendarID(ctx, calendarID); err != nil {
		return fmt.Errorf("storing calendar ID: %w", err)
	}

	s.sched.Resume()
	s.log.Info("global sync enabled", "calendar_id", calendarID, "title", title)
	return s.Sweep(ctx)
}

// DisableGlobalSync drains all in-flight reconciliations, deletes the shared
// calendar, wipes every course record, and publishes Offline for each course
// that had one. In-flight work that slips past the drain cannot resurrect
// records: the wipe advances the sync epoch, and stale-epoch writes are
// discarded by the store.
func (s *Service) DisableGlobalSync(ctx context.Context) error {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing sync records: %w", err)
	}

	if err := s.sched.Quiesce(ctx); err != nil {
		return err
	}

	calendarID, err := s.store.CalendarID(ctx)
	if err != nil {
		return fmt.Errorf("loading calendar ID: %w", err)
	}
	if calendarID != "" {
		if err := s.provider.DeleteCalendar(ctx, calendarID); err != nil {
			return fmt.Errorf("deleting shared calendar: %w", err)
		}
	}

	epoch, err := s.store.ClearAll(ctx)
	if err != nil {
		return fmt.Errorf("clearing sync records: %w", err)
	}

	for _, rec := range records {
		s.notifier.Publish(Transition{CourseID: rec.CourseID, State: model.StateOffline})
	}
	s.log.Info("global sync disabled", "courses_cleared", len(records), "epoch", epoch)
	return nil
}

// EnableCourseSync turns sync on for one course (creating its record on
// first enable) and dispatches a targeted reconciliation.
func (s *Service) EnableCourseSync(ctx context.Context, courseID string) error {
	rec, err := s.ensureRecord(ctx, courseID)
	if err != nil {
		return err
	}
	rec.SyncEnabled = true
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("enabling sync for course %q: %w", courseID, err)
	}
	s.sched.Immediate(courseID)
	return nil
}

// DisableCourseSync turns sync off for one course. No provider calls are
// made: the shared calendar and its events stay until the next sweep or a
// global disable.
func (s *Service) DisableCourseSync(ctx context.Context, courseID string) error {
	rec, err := s.ensureRecord(ctx, courseID)
	if err != nil {
		return err
	}
	rec.SyncEnabled = false
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("disabling sync for course %q: %w", courseID, err)
	}
	s.notifier.Publish(Transition{CourseID: courseID, State: model.StateOffline})
	return nil
}

// RequestImmediateSync dispatches a reconciliation for the course as soon as
// its worker is free.
func (s *Service) RequestImmediateSync(courseID string) {
	s.sched.Immediate(courseID)
}

// SyncAll dispatches a reconciliation for every sync-enabled course.
func (s *Service) SyncAll(ctx context.Context) error {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing sync records: %w", err)
	}
	for _, rec := range records {
		if rec.SyncEnabled {
			s.sched.Immediate(rec.CourseID)
		}
	}
	return nil
}

// SetHideInactiveCourses stores the listing filter. Filtering only; no
// reconciliation effect.
func (s *Service) SetHideInactiveCourses(ctx context.Context, hide bool) error {
	return s.store.SetHideInactive(ctx, hide)
}

// CoursesToSync returns the enrollment listing joined with each course's
// stored sync flag, honoring the hide-inactive filter.
func (s *Service) CoursesToSync(ctx context.Context) ([]CourseListing, error) {
	enrollments, err := s.source.Enrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enrollments: %w", err)
	}
	hide, err := s.store.HideInactive(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading listing filter: %w", err)
	}

	listings := make([]CourseListing, 0, len(enrollments))
	for _, e := range enrollments {
		if hide && !e.RecentlyActive {
			continue
		}
		rec, err := s.store.Get(ctx, e.CourseID)
		if err != nil {
			return nil, fmt.Errorf("loading record for course %q: %w", e.CourseID, err)
		}
		listings = append(listings, CourseListing{
			EnrollmentSummary: e,
			SyncEnabled:       rec != nil && rec.SyncEnabled,
		})
	}
	return listings, nil
}

// CourseState derives the course's current sync state on read: disabled or
// permission-less courses are Offline, a course that never completed a
// reconciliation is Synchronizing, everything else is Synced.
func (s *Service) CourseState(ctx context.Context, courseID string) (model.SyncState, error) {
	rec, err := s.store.Get(ctx, courseID)
	if err != nil {
		return model.StateOffline, fmt.Errorf("loading record for course %q: %w", courseID, err)
	}
	if rec == nil || !rec.SyncEnabled || !s.provider.HasPermission(ctx) {
		return model.StateOffline, nil
	}
	if rec.LastChecksum == nil {
		return model.StateSynchronizing, nil
	}
	return model.StateSynced, nil
}

// Identity returns the shared calendar's display identity for the UI, or
// (nil, nil) when no calendar exists.
func (s *Service) Identity(ctx context.Context) (*model.CalendarIdentity, error) {
	calendarID, err := s.store.CalendarID(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading calendar ID: %w", err)
	}
	if calendarID == "" {
		return nil, nil
	}
	return s.provider.CalendarData(ctx, calendarID)
}

// Sweep is the periodic drift check. It reconciles the record set with the
// enrollment listing (auto-creating records for new courses, pruning courses
// the learner left, events included) and dispatches reconciliation for every
// enabled course whose schedule fingerprint no longer matches its stored
// checksum.
func (s *Service) Sweep(ctx context.Context) error {
	enrollments, err := s.source.Enrollments(ctx)
	if err != nil {
		return fmt.Errorf("listing enrollments: %w", err)
	}
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing sync records: %w", err)
	}

	enrolled := make(map[string]model.EnrollmentSummary, len(enrollments))
	for _, e := range enrollments {
		enrolled[e.CourseID] = e
	}
	known := make(map[string]*state.Record, len(records))
	for _, rec := range records {
		known[rec.CourseID] = rec
	}

	// New enrollments get a record up front, enabled when the course is
	// recently active.
	for courseID, e := range enrolled {
		if _, ok := known[courseID]; ok {
			continue
		}
		rec, err := s.ensureRecord(ctx, courseID)
		if err != nil {
			return err
		}
		rec.SyncEnabled = e.RecentlyActive
		if err := s.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("creating record for course %q: %w", courseID, err)
		}
		known[courseID] = rec
		s.log.Debug("new enrollment registered", "course_id", courseID, "sync_enabled", rec.SyncEnabled)
	}

	var errs []error
	for courseID, rec := range known {
		if _, ok := enrolled[courseID]; !ok {
			if err := s.pruneCourse(ctx, rec); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if !rec.SyncEnabled {
			continue
		}

		items, err := s.source.Items(ctx, courseID)
		if err != nil {
			errs = append(errs, fmt.Errorf("loading schedule for course %q: %w", courseID, err))
			continue
		}
		checksum := model.Fingerprint(items)
		if rec.LastChecksum == nil || *rec.LastChecksum != checksum {
			s.log.Debug("drift detected", "course_id", courseID, "checksum", checksum)
			s.sched.Immediate(courseID)
		}
	}
	return errors.Join(errs...)
}

// RunOnce performs a single synchronous pass over all enabled courses:
// sweep the record set, then reconcile each course directly, bypassing the
// scheduler. Used by the sync-once command.
func (s *Service) RunOnce(ctx context.Context) (Stats, error) {
	if err := s.Sweep(ctx); err != nil {
		return Stats{}, err
	}
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing sync records: %w", err)
	}

	var total Stats
	var errs []error
	for _, rec := range records {
		if !rec.SyncEnabled {
			continue
		}
		stats, err := s.reconciler.SyncCourse(ctx, rec.CourseID)
		total.Upserted += stats.Upserted
		total.Deleted += stats.Deleted
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// pruneCourse removes a no-longer-enrolled course: its calendar events first,
// then its record.
func (s *Service) pruneCourse(ctx context.Context, rec *state.Record) error {
	calendarID, err := s.store.CalendarID(ctx)
	if err != nil {
		return fmt.Errorf("loading calendar ID: %w", err)
	}
	if calendarID != "" && s.provider.HasPermission(ctx) {
		keys, err := s.provider.ListEventKeys(ctx, calendarID, rec.CourseID)
		if err != nil && !errors.Is(err, model.ErrProviderUnavailable) {
			return fmt.Errorf("listing events for unenrolled course %q: %w", rec.CourseID, err)
		}
		for _, k := range keys {
			if err := s.provider.DeleteEvent(ctx, calendarID, rec.CourseID, k.BlockID); err != nil {
				return fmt.Errorf("deleting event for unenrolled course %q: %w", rec.CourseID, err)
			}
		}
	}
	if err := s.store.Delete(ctx, rec.CourseID); err != nil {
		return fmt.Errorf("deleting record for course %q: %w", rec.CourseID, err)
	}
	s.notifier.Publish(Transition{CourseID: rec.CourseID, State: model.StateOffline})
	s.log.Info("unenrolled course pruned", "course_id", rec.CourseID)
	return nil
}

// ensureRecord loads the course's record, creating a fresh disabled one
// carrying the current sync epoch when none exists.
func (s *Service) ensureRecord(ctx context.Context, courseID string) (*state.Record, error) {
	rec, err := s.store.Get(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("loading record for course %q: %w", courseID, err)
	}
	if rec != nil {
		return rec, nil
	}
	epoch, err := s.store.Epoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sync epoch: %w", err)
	}
	return &state.Record{CourseID: courseID, Epoch: epoch}, nil
}
