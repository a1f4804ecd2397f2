package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/njoerd114/coursecal/internal/model"
	"github.com/njoerd114/coursecal/internal/state"
)

func newTestReconciler() (*Reconciler, *mockProvider, *mockSource, *mockStore, *Notifier) {
	provider := newMockProvider()
	source := newMockSource()
	store := newMockStore()
	notifier := NewNotifier()
	r := NewReconciler(provider, source, store, notifier, "My Courses", 0x2196F3, testLogger())
	return r, provider, source, store, notifier
}

func enableCourse(store *mockStore, courseID string) {
	store.putDirect(&state.Record{CourseID: courseID, SyncEnabled: true})
}

func scheduleItems(n int) []model.ScheduleItem {
	items := make([]model.ScheduleItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.ScheduleItem{
			BlockID:          string(rune('a' + i)),
			Title:            "Assignment",
			DueAt:            time.Date(2026, 4, 1+i, 12, 0, 0, 0, time.UTC),
			Kind:             model.KindAssignmentDue,
			LearnerHasAccess: true,
		})
	}
	return items
}

func TestInitialSync(t *testing.T) {
	r, provider, source, store, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(3))

	stats, err := r.SyncCourse(context.Background(), "course-A")
	if err != nil {
		t.Fatalf("SyncCourse: %v", err)
	}
	if stats.Upserted != 3 || stats.Deleted != 0 {
		t.Errorf("stats = %+v, want 3 upserts, 0 deletes", stats)
	}
	if provider.eventCount() != 3 {
		t.Errorf("calendar holds %d events, want 3", provider.eventCount())
	}
	if store.checksum("course-A") == nil {
		t.Error("checksum not recorded after successful sync")
	}

	stop()
	got := collector.observed("course-A")
	want := []model.SyncState{model.StateSynchronizing, model.StateSynced}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestIdempotence(t *testing.T) {
	r, provider, source, store, _ := newTestReconciler()
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(3))
	ctx := context.Background()

	if _, err := r.SyncCourse(ctx, "course-A"); err != nil {
		t.Fatalf("first SyncCourse: %v", err)
	}
	up1, del1 := provider.writeCalls()

	stats, err := r.SyncCourse(ctx, "course-A")
	if err != nil {
		t.Fatalf("second SyncCourse: %v", err)
	}
	up2, del2 := provider.writeCalls()
	if stats.Upserted != 0 || stats.Deleted != 0 {
		t.Errorf("second run stats = %+v, want zero writes", stats)
	}
	if up2 != up1 || del2 != del1 {
		t.Errorf("second run performed provider writes: upserts %d→%d, deletes %d→%d", up1, up2, del1, del2)
	}
}

func TestDueDateShiftMinimalDiff(t *testing.T) {
	r, _, source, store, _ := newTestReconciler()
	enableCourse(store, "course-A")
	items := scheduleItems(3)
	source.setItems("course-A", items)
	ctx := context.Background()

	if _, err := r.SyncCourse(ctx, "course-A"); err != nil {
		t.Fatalf("initial SyncCourse: %v", err)
	}

	shifted := append([]model.ScheduleItem(nil), items...)
	shifted[1].DueAt = shifted[1].DueAt.Add(72 * time.Hour)
	source.setItems("course-A", shifted)

	stats, err := r.SyncCourse(ctx, "course-A")
	if err != nil {
		t.Fatalf("SyncCourse after shift: %v", err)
	}
	if stats.Upserted != 1 || stats.Deleted != 0 {
		t.Errorf("stats = %+v, want exactly 1 upsert and 0 deletes", stats)
	}
}

func TestPermissionAbsentIsOfflineWithoutProviderCalls(t *testing.T) {
	r, provider, source, store, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(2))
	provider.setPermission(false)

	stats, err := r.SyncCourse(context.Background(), "course-A")
	if err != nil {
		t.Fatalf("SyncCourse: %v", err)
	}
	if stats.Upserted != 0 || stats.Deleted != 0 {
		t.Errorf("stats = %+v, want zero writes", stats)
	}
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls.upserts+calls.deletes+calls.lists+calls.creates+calls.calDeletes != 0 {
		t.Errorf("provider was called despite missing permission: %+v", calls)
	}

	stop()
	got := collector.observed("course-A")
	if len(got) != 1 || got[0] != model.StateOffline {
		t.Errorf("transitions = %v, want exactly one Offline", got)
	}
}

func TestDisabledCourseIsOffline(t *testing.T) {
	r, provider, _, store, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)
	store.putDirect(&state.Record{CourseID: "course-A", SyncEnabled: false})

	if _, err := r.SyncCourse(context.Background(), "course-A"); err != nil {
		t.Fatalf("SyncCourse: %v", err)
	}
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls.upserts+calls.lists+calls.creates != 0 {
		t.Errorf("provider was called for a disabled course: %+v", calls)
	}

	stop()
	got := collector.observed("course-A")
	if len(got) != 1 || got[0] != model.StateOffline {
		t.Errorf("transitions = %v, want exactly one Offline", got)
	}
}

func TestAccessGating(t *testing.T) {
	r, provider, source, store, _ := newTestReconciler()
	enableCourse(store, "course-A")
	items := scheduleItems(2)
	items[1].LearnerHasAccess = false
	source.setItems("course-A", items)
	ctx := context.Background()

	if _, err := r.SyncCourse(ctx, "course-A"); err != nil {
		t.Fatalf("SyncCourse: %v", err)
	}
	if provider.eventCount() != 1 {
		t.Errorf("calendar holds %d events, want 1 (gated item excluded)", provider.eventCount())
	}

	// Access revoked on the previously synced item: its event must go.
	items[0].LearnerHasAccess = false
	source.setItems("course-A", items)
	stats, err := r.SyncCourse(ctx, "course-A")
	if err != nil {
		t.Fatalf("SyncCourse after revocation: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("stats = %+v, want 1 delete", stats)
	}
	if provider.eventCount() != 0 {
		t.Errorf("calendar still holds %d events after access revocation", provider.eventCount())
	}
}

func TestWriteFailureLeavesChecksumUnchanged(t *testing.T) {
	r, provider, source, store, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(3))
	provider.failWrites = errWriteBoom
	ctx := context.Background()

	if _, err := r.SyncCourse(ctx, "course-A"); !errors.Is(err, errWriteBoom) {
		t.Fatalf("SyncCourse err = %v, want wrapped write failure", err)
	}
	if store.checksum("course-A") != nil {
		t.Error("checksum advanced despite write failure")
	}

	// Next attempt retries the full diff and succeeds.
	provider.mu.Lock()
	provider.failWrites = nil
	provider.mu.Unlock()
	stats, err := r.SyncCourse(ctx, "course-A")
	if err != nil {
		t.Fatalf("retry SyncCourse: %v", err)
	}
	if stats.Upserted != 3 {
		t.Errorf("retry stats = %+v, want the full batch of 3 upserts", stats)
	}
	if store.checksum("course-A") == nil {
		t.Error("checksum not recorded after successful retry")
	}

	stop()
	got := collector.observed("course-A")
	want := []model.SyncState{
		model.StateSynchronizing, model.StateSyncFailed,
		model.StateSynchronizing, model.StateSynced,
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPermissionRevokedMidSyncIsOffline(t *testing.T) {
	r, provider, source, store, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(1))
	provider.failWrites = model.ErrPermissionDenied

	if _, err := r.SyncCourse(context.Background(), "course-A"); !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("SyncCourse err = %v, want ErrPermissionDenied", err)
	}

	stop()
	got := collector.observed("course-A")
	if len(got) != 2 || got[1] != model.StateOffline {
		t.Errorf("transitions = %v, want Synchronizing then Offline", got)
	}
}

func TestCalendarDeletedOutOfBandIsRecreated(t *testing.T) {
	r, provider, source, store, _ := newTestReconciler()
	enableCourse(store, "course-A")
	source.setItems("course-A", scheduleItems(2))
	ctx := context.Background()

	if _, err := r.SyncCourse(ctx, "course-A"); err != nil {
		t.Fatalf("initial SyncCourse: %v", err)
	}
	calID, _ := store.CalendarID(ctx)
	if err := provider.DeleteCalendar(ctx, calID); err != nil {
		t.Fatalf("DeleteCalendar: %v", err)
	}

	// The schedule is unchanged, but the checksum short-circuit must not
	// apply against a freshly recreated calendar.
	stats, err := r.SyncCourse(ctx, "course-A")
	if err != nil {
		t.Fatalf("SyncCourse after out-of-band delete: %v", err)
	}
	if stats.Upserted != 2 {
		t.Errorf("stats = %+v, want the events rewritten", stats)
	}
	if provider.eventCount() != 2 {
		t.Errorf("calendar holds %d events, want 2", provider.eventCount())
	}
}

func TestUnknownCourseIsOffline(t *testing.T) {
	r, _, _, _, notifier := newTestReconciler()
	collector, stop := newStateCollector(notifier)

	if _, err := r.SyncCourse(context.Background(), "ghost"); err != nil {
		t.Fatalf("SyncCourse: %v", err)
	}
	stop()
	got := collector.observed("ghost")
	if len(got) != 1 || got[0] != model.StateOffline {
		t.Errorf("transitions = %v, want exactly one Offline", got)
	}
}
