package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdsync "sync"

	"github.com/njoerd114/coursecal/internal/model"
	"github.com/njoerd114/coursecal/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock Calendar Provider --------------------------------------------------

type mockEvent struct {
	courseID string
	item     model.ScheduleItem
}

type mockProvider struct {
	mu         stdsync.Mutex
	permission bool
	calendarID string // empty means no calendar exists
	title      string
	color      int32
	events     map[string]mockEvent // "courseID/blockID" → event
	nextID     int

	failWrites error // when set, UpsertEvent/DeleteEvent fail with this

	calls struct {
		upserts, deletes, lists, creates, calDeletes int
	}
}

func newMockProvider() *mockProvider {
	return &mockProvider{permission: true, events: make(map[string]mockEvent)}
}

func eventKeyOf(courseID, blockID string) string {
	return courseID + "/" + blockID
}

func (m *mockProvider) HasPermission(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

func (m *mockProvider) RequestPermission(ctx context.Context) (bool, error) {
	return m.HasPermission(ctx), nil
}

func (m *mockProvider) CreateOrRenameCalendar(_ context.Context, title string, color int32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.creates++
	if m.calendarID == "" {
		m.nextID++
		m.calendarID = fmt.Sprintf("cal-%d", m.nextID)
	}
	m.title = title
	m.color = color
	return m.calendarID, nil
}

func (m *mockProvider) DeleteCalendar(_ context.Context, calendarID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.calDeletes++
	if m.calendarID == calendarID {
		m.calendarID = ""
		m.events = make(map[string]mockEvent)
	}
	return nil
}

func (m *mockProvider) CalendarData(_ context.Context, calendarID string) (*model.CalendarIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calendarID == "" || m.calendarID != calendarID {
		return nil, nil
	}
	return &model.CalendarIdentity{CalendarID: m.calendarID, Title: m.title, ColorARGB: m.color}, nil
}

func (m *mockProvider) UpsertEvent(_ context.Context, calendarID, courseID string, item model.ScheduleItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.upserts++
	if m.failWrites != nil {
		return "", m.failWrites
	}
	if m.calendarID == "" || m.calendarID != calendarID {
		return "", model.ErrProviderUnavailable
	}
	m.events[eventKeyOf(courseID, item.BlockID)] = mockEvent{courseID: courseID, item: item}
	return eventKeyOf(courseID, item.BlockID), nil
}

func (m *mockProvider) DeleteEvent(_ context.Context, calendarID, courseID, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.deletes++
	if m.failWrites != nil {
		return m.failWrites
	}
	delete(m.events, eventKeyOf(courseID, blockID))
	return nil
}

func (m *mockProvider) ListEventKeys(_ context.Context, calendarID, courseID string) ([]model.EventKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.lists++
	if m.calendarID == "" || m.calendarID != calendarID {
		return nil, model.ErrProviderUnavailable
	}
	var keys []model.EventKey
	for _, ev := range m.events {
		if ev.courseID != courseID {
			continue
		}
		keys = append(keys, model.EventKey{BlockID: ev.item.BlockID, ContentHash: ev.item.ContentHash()})
	}
	return keys, nil
}

func (m *mockProvider) setPermission(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permission = ok
}

func (m *mockProvider) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockProvider) writeCalls() (upserts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls.upserts, m.calls.deletes
}

// --- Mock Schedule Source ----------------------------------------------------

type mockSource struct {
	mu          stdsync.Mutex
	items       map[string][]model.ScheduleItem
	enrollments []model.EnrollmentSummary
	failWith    error
}

func newMockSource() *mockSource {
	return &mockSource{items: make(map[string][]model.ScheduleItem)}
}

func (m *mockSource) Items(_ context.Context, courseID string) ([]model.ScheduleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.items[courseID], nil
}

func (m *mockSource) Enrollments(_ context.Context) ([]model.EnrollmentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.enrollments, nil
}

func (m *mockSource) setItems(courseID string, items []model.ScheduleItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[courseID] = items
}

// --- Mock State Store --------------------------------------------------------

type mockStore struct {
	mu           stdsync.Mutex
	records      map[string]*state.Record
	epoch        int64
	calendarID   string
	hideInactive bool
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*state.Record)}
}

func (m *mockStore) Get(_ context.Context, courseID string) (*state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[courseID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) GetAll(_ context.Context) ([]*state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*state.Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) Put(_ context.Context, rec *state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Epoch != m.epoch {
		// Stale write from before a global disable; discard.
		return nil
	}
	cp := *rec
	m.records[rec.CourseID] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, courseID)
	return nil
}

func (m *mockStore) ClearAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*state.Record)
	m.epoch++
	m.calendarID = ""
	return m.epoch, nil
}

func (m *mockStore) Epoch(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, nil
}

func (m *mockStore) CalendarID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calendarID, nil
}

func (m *mockStore) SetCalendarID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendarID = id
	return nil
}

func (m *mockStore) HideInactive(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hideInactive, nil
}

func (m *mockStore) SetHideInactive(_ context.Context, hide bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideInactive = hide
	return nil
}

func (m *mockStore) putDirect(rec *state.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.CourseID] = &cp
}

func (m *mockStore) checksum(courseID string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[courseID]
	if !ok || rec.LastChecksum == nil {
		return nil
	}
	v := *rec.LastChecksum
	return &v
}

// --- State collector ---------------------------------------------------------

// collectStates drains a subscriber channel into a slice until it is closed.
type stateCollector struct {
	mu     stdsync.Mutex
	states map[string][]model.SyncState
	done   chan struct{}
}

func newStateCollector(n *Notifier) (*stateCollector, func()) {
	ch, cancel := n.Subscribe()
	c := &stateCollector{states: make(map[string][]model.SyncState), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for t := range ch {
			c.mu.Lock()
			c.states[t.CourseID] = append(c.states[t.CourseID], t.State)
			c.mu.Unlock()
		}
	}()
	stop := func() {
		cancel()
		<-c.done
	}
	return c, stop
}

func (c *stateCollector) observed(courseID string) []model.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.SyncState(nil), c.states[courseID]...)
}

var errWriteBoom = errors.New("provider write failed")
