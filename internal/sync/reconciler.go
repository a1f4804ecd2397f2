package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/coursecal/internal/model"
)

const (
	otelScope      = "coursecal/sync"
	spanSyncCourse = "sync.course"
	metricUpserted = "coursecal.sync.events.upserted"
	metricDeleted  = "coursecal.sync.events.deleted"
	metricErrors   = "coursecal.sync.errors"
)

// Stats summarizes the provider writes of one reconciliation attempt.
type Stats struct {
	Upserted int
	Deleted  int
}

// Reconciler runs single-course reconciliation attempts: it diffs the
// course's current schedule items against the events in the shared calendar,
// applies the minimal set of writes, and advances the stored checksum only
// when the whole batch lands. Create one with [NewReconciler].
//
// Callers must serialize attempts per course; [Scheduler] does this.
type Reconciler struct {
	provider CalendarProvider
	source   ScheduleSource
	store    StateStore
	notifier *Notifier
	calTitle string
	calColor int32
	log      *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntUpserted metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// NewReconciler creates a Reconciler. title and colorARGB are used when the
// shared calendar has to be created lazily.
func NewReconciler(provider CalendarProvider, source ScheduleSource, store StateStore, notifier *Notifier, title string, colorARGB int32, logger *slog.Logger) *Reconciler {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Reconciler{
		provider: provider,
		source:   source,
		store:    store,
		notifier: notifier,
		calTitle: title,
		calColor: colorARGB,
		log:      logger,

		tracer:      tracer,
		cntUpserted: mustCounter(metricUpserted, "Number of calendar events upserted during sync"),
		cntDeleted:  mustCounter(metricDeleted, "Number of calendar events deleted during sync"),
		cntErrors:   mustCounter(metricErrors, "Number of failed reconciliation attempts"),
	}
}

// SyncCourse runs one reconciliation attempt for the course and publishes the
// resulting state transition. The stored checksum is advanced only after the
// whole write batch succeeds and the calendar verifiably matches the
// schedule; on any failure the next attempt retries the full diff.
func (r *Reconciler) SyncCourse(ctx context.Context, courseID string) (Stats, error) {
	ctx, span := r.tracer.Start(ctx, spanSyncCourse, trace.WithAttributes(attribute.String("course.id", courseID)))
	defer span.End()

	stats, err := r.syncCourse(ctx, courseID)

	if stats.Upserted > 0 {
		r.cntUpserted.Add(ctx, int64(stats.Upserted))
	}
	if stats.Deleted > 0 {
		r.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	span.SetAttributes(
		attribute.Int("sync.upserted", stats.Upserted),
		attribute.Int("sync.deleted", stats.Deleted),
	)
	if err != nil {
		r.cntErrors.Add(ctx, 1)
		span.RecordError(err)
	}
	return stats, err
}

func (r *Reconciler) syncCourse(ctx context.Context, courseID string) (Stats, error) {
	rec, err := r.store.Get(ctx, courseID)
	if err != nil {
		r.publish(courseID, model.StateSyncFailed)
		return Stats{}, fmt.Errorf("loading sync record for course %q: %w", courseID, err)
	}
	if rec == nil || !rec.SyncEnabled {
		r.publish(courseID, model.StateOffline)
		return Stats{}, nil
	}
	if !r.provider.HasPermission(ctx) {
		r.log.Debug("calendar permission absent, course offline", "course_id", courseID)
		r.publish(courseID, model.StateOffline)
		return Stats{}, nil
	}

	r.publish(courseID, model.StateSynchronizing)

	items, err := r.source.Items(ctx, courseID)
	if err != nil {
		r.publish(courseID, model.StateSyncFailed)
		return Stats{}, fmt.Errorf("loading schedule for course %q: %w", courseID, err)
	}

	calendarID, created, err := r.ensureCalendar(ctx)
	if err != nil {
		r.publish(courseID, r.failureState(err))
		return Stats{}, fmt.Errorf("ensuring shared calendar: %w", err)
	}

	newChecksum := model.Fingerprint(items)
	if !created && rec.LastChecksum != nil && *rec.LastChecksum == newChecksum {
		r.log.Debug("schedule unchanged, no writes", "course_id", courseID, "checksum", newChecksum)
		r.publish(courseID, model.StateSynced)
		return Stats{}, nil
	}

	stats, err := r.applyDiff(ctx, calendarID, courseID, items)
	if err != nil {
		r.publish(courseID, r.failureState(err))
		return stats, err
	}

	// Correctness guard: the calendar must now mirror the accessible items.
	// A disagreement here means an external actor raced us; fail the attempt
	// so the next one retries the full diff.
	if err := r.verify(ctx, calendarID, courseID, items); err != nil {
		r.publish(courseID, model.StateSyncFailed)
		return stats, err
	}

	rec.LastChecksum = &newChecksum
	rec.CalendarID = calendarID
	if err := r.store.Put(ctx, rec); err != nil {
		r.publish(courseID, model.StateSyncFailed)
		return stats, fmt.Errorf("recording checksum for course %q: %w", courseID, err)
	}

	r.log.Info("course reconciled",
		"course_id", courseID,
		"upserted", stats.Upserted,
		"deleted", stats.Deleted,
		"checksum", newChecksum)
	r.publish(courseID, model.StateSynced)
	return stats, nil
}

// ensureCalendar returns the shared calendar's ID, creating the calendar if
// none exists yet or the user deleted it out-of-band. created reports whether
// a (re-)creation happened, in which case stored checksums cannot be trusted
// to reflect calendar contents.
func (r *Reconciler) ensureCalendar(ctx context.Context) (calendarID string, created bool, err error) {
	calendarID, err = r.store.CalendarID(ctx)
	if err != nil {
		return "", false, fmt.Errorf("loading calendar ID: %w", err)
	}
	if calendarID != "" {
		data, err := r.provider.CalendarData(ctx, calendarID)
		if err != nil {
			return "", false, err
		}
		if data != nil {
			return calendarID, false, nil
		}
		r.log.Warn("stored calendar is gone, recreating", "calendar_id", calendarID)
	}

	calendarID, err = r.provider.CreateOrRenameCalendar(ctx, r.calTitle, r.calColor)
	if err != nil {
		return "", false, err
	}
	if err := r.store.SetCalendarID(ctx, calendarID); err != nil {
		return "", false, fmt.Errorf("storing calendar ID: %w", err)
	}
	return calendarID, true, nil
}

// applyDiff brings the course's events in line with its accessible schedule
// items: upsert what is new or changed, delete what no longer belongs.
func (r *Reconciler) applyDiff(ctx context.Context, calendarID, courseID string, items []model.ScheduleItem) (Stats, error) {
	var stats Stats

	keys, err := r.provider.ListEventKeys(ctx, calendarID, courseID)
	if err != nil {
		return stats, fmt.Errorf("listing events for course %q: %w", courseID, err)
	}
	existing := make(map[string]int64, len(keys))
	for _, k := range keys {
		existing[k.BlockID] = k.ContentHash
	}

	desired := desiredItems(items)
	for blockID, item := range desired {
		if hash, ok := existing[blockID]; ok && hash == item.ContentHash() {
			continue
		}
		if _, err := r.provider.UpsertEvent(ctx, calendarID, courseID, item); err != nil {
			return stats, fmt.Errorf("upserting event for block %q: %w", blockID, err)
		}
		stats.Upserted++
	}

	for blockID := range existing {
		if _, ok := desired[blockID]; ok {
			continue
		}
		if err := r.provider.DeleteEvent(ctx, calendarID, courseID, blockID); err != nil {
			return stats, fmt.Errorf("deleting event for block %q: %w", blockID, err)
		}
		stats.Deleted++
	}

	return stats, nil
}

// verify re-lists the course's event keys and checks they match the
// accessible items exactly.
func (r *Reconciler) verify(ctx context.Context, calendarID, courseID string, items []model.ScheduleItem) error {
	keys, err := r.provider.ListEventKeys(ctx, calendarID, courseID)
	if err != nil {
		return fmt.Errorf("re-listing events for course %q: %w", courseID, err)
	}

	desired := desiredItems(items)
	if len(keys) != len(desired) {
		return fmt.Errorf("calendar holds %d events for course %q, schedule implies %d", len(keys), courseID, len(desired))
	}
	for _, k := range keys {
		item, ok := desired[k.BlockID]
		if !ok || item.ContentHash() != k.ContentHash {
			return fmt.Errorf("calendar event for block %q diverges from schedule", k.BlockID)
		}
	}
	return nil
}

// desiredItems indexes the items that may appear on the calendar by block ID.
// Gated content never materializes as an event.
func desiredItems(items []model.ScheduleItem) map[string]model.ScheduleItem {
	desired := make(map[string]model.ScheduleItem, len(items))
	for _, item := range items {
		if !item.LearnerHasAccess {
			continue
		}
		desired[item.BlockID] = item
	}
	return desired
}

// failureState maps a provider error to the state it surfaces as: permission
// loss reads as Offline, everything else as SyncFailed.
func (r *Reconciler) failureState(err error) model.SyncState {
	if errors.Is(err, model.ErrPermissionDenied) {
		return model.StateOffline
	}
	return model.StateSyncFailed
}

func (r *Reconciler) publish(courseID string, s model.SyncState) {
	r.notifier.Publish(Transition{CourseID: courseID, State: s})
}
