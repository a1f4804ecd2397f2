// Package icscal implements a calendar provider that persists the shared
// course calendar as a single iCalendar file. Desktop calendar applications
// subscribe to the file; each event carries private X- properties identifying
// the owning course and block so event keys are recoverable from the file
// alone, without any locally stored event-ID list.
package icscal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/njoerd114/coursecal/internal/model"
)

const (
	propCourse = ical.ComponentProperty("X-COURSECAL-COURSE")
	propBlock  = ical.ComponentProperty("X-COURSECAL-BLOCK")
	propHash   = ical.ComponentProperty("X-COURSECAL-HASH")

	productID = "-//coursecal//course calendar sync//EN"

	// eventWindow is how long before the due time an event starts. The
	// event ends exactly at the due time.
	eventWindow = time.Hour
)

// Provider is an ICS-file-backed calendar provider. All methods are safe for
// concurrent use; the file is rewritten atomically on every mutation.
type Provider struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// DefaultPath returns the default calendar file location:
// ~/.local/share/coursecal/coursecal.ics
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "coursecal", "coursecal.ics"), nil
}

// NewProvider creates a Provider that stores the calendar at path.
func NewProvider(path string, logger *slog.Logger) *Provider {
	return &Provider{path: path, log: logger}
}

// HasPermission reports whether the calendar file's directory is writable.
func (p *Provider) HasPermission(_ context.Context) bool {
	probe := filepath.Join(filepath.Dir(p.path), ".coursecal-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return true
}

// RequestPermission attempts to create the calendar directory and reports
// whether it is now writable. There is no interactive prompt for a plain
// file target.
func (p *Provider) RequestPermission(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		if os.IsPermission(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating calendar directory: %w", err)
	}
	return p.HasPermission(ctx), nil
}

// CreateOrRenameCalendar creates the calendar file if absent, or updates its
// title and color in place, preserving the existing calendar ID and events.
func (p *Provider) CreateOrRenameCalendar(_ context.Context, title string, colorARGB int32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(false)
	if err != nil {
		return "", err
	}

	calendarID := ""
	if cal != nil {
		calendarID = calendarProp(cal, "X-WR-RELCALID")
	}
	if cal == nil {
		cal = ical.NewCalendar()
		cal.SetProductId(productID)
	}
	if calendarID == "" {
		calendarID = uuid.NewString()
	}

	cal.SetXWRCalID(calendarID)
	cal.SetXWRCalName(title)
	cal.SetName(title)
	cal.SetColor(colorHex(colorARGB))

	if err := p.save(cal); err != nil {
		return "", err
	}
	p.log.Info("calendar ready", "calendar_id", calendarID, "title", title, "path", p.path)
	return calendarID, nil
}

// DeleteCalendar removes the calendar file. Deleting an already-missing
// calendar is not an error.
func (p *Provider) DeleteCalendar(_ context.Context, calendarID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(false)
	if err != nil {
		return err
	}
	if cal == nil {
		return nil
	}
	if got := calendarProp(cal, "X-WR-RELCALID"); got != "" && got != calendarID {
		return fmt.Errorf("calendar ID mismatch: file holds %q, asked to delete %q", got, calendarID)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return classify(fmt.Errorf("removing calendar file: %w", err))
	}
	p.log.Info("calendar deleted", "calendar_id", calendarID)
	return nil
}

// CalendarData returns the calendar's display identity, or (nil, nil) if no
// calendar exists.
func (p *Provider) CalendarData(_ context.Context, calendarID string) (*model.CalendarIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(false)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, nil
	}
	return &model.CalendarIdentity{
		CalendarID: calendarProp(cal, "X-WR-RELCALID"),
		Title:      calendarProp(cal, "X-WR-CALNAME"),
		ColorARGB:  parseColorHex(calendarProp(cal, "COLOR")),
	}, nil
}

// UpsertEvent creates or replaces the event for (courseID, item.BlockID). The
// event spans the hour ending at the due time, mirroring how the platform's
// own calendar integration frames deadlines.
func (p *Provider) UpsertEvent(_ context.Context, calendarID, courseID string, item model.ScheduleItem) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(true)
	if err != nil {
		return "", err
	}

	ve := findEvent(cal, courseID, item.BlockID)
	if ve == nil {
		ve = cal.AddEvent(uuid.NewString() + "@coursecal")
	}

	ve.SetSummary(item.Title)
	ve.SetDescription(eventDescription(item))
	ve.SetStartAt(item.DueAt.Add(-eventWindow).UTC())
	ve.SetEndAt(item.DueAt.UTC())
	ve.SetDtStampTime(time.Now().UTC())
	ve.SetProperty(propCourse, courseID)
	ve.SetProperty(propBlock, item.BlockID)
	ve.SetProperty(propHash, strconv.FormatInt(item.ContentHash(), 10))

	if err := p.save(cal); err != nil {
		return "", err
	}
	return eventProp(ve, ical.ComponentPropertyUniqueId), nil
}

// DeleteEvent removes the event for (courseID, blockID). Removing a missing
// event is not an error.
func (p *Provider) DeleteEvent(_ context.Context, calendarID, courseID, blockID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(true)
	if err != nil {
		return err
	}

	removed := false
	kept := cal.Components[:0]
	for _, comp := range cal.Components {
		if ve, ok := comp.(*ical.VEvent); ok {
			if eventProp(ve, propCourse) == courseID && eventProp(ve, propBlock) == blockID {
				removed = true
				continue
			}
		}
		kept = append(kept, comp)
	}
	cal.Components = kept

	if !removed {
		return nil
	}
	return p.save(cal)
}

// ListEventKeys returns the (blockID, contentHash) keys of every event owned
// by the given course.
func (p *Provider) ListEventKeys(_ context.Context, calendarID, courseID string) ([]model.EventKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load(true)
	if err != nil {
		return nil, err
	}

	var keys []model.EventKey
	for _, ve := range cal.Events() {
		if eventProp(ve, propCourse) != courseID {
			continue
		}
		hash, err := strconv.ParseInt(eventProp(ve, propHash), 10, 64)
		if err != nil {
			// An event we wrote but cannot read back cleanly; report a
			// zero hash so the reconciler rewrites it.
			hash = 0
		}
		keys = append(keys, model.EventKey{
			BlockID:     eventProp(ve, propBlock),
			ContentHash: hash,
		})
	}
	return keys, nil
}

// --- persistence -------------------------------------------------------------

// load parses the calendar file. With required=false a missing file yields
// (nil, nil); with required=true it is a provider-unavailable error, since
// event operations presuppose a created calendar.
func (p *Provider) load(required bool) (*ical.Calendar, error) {
	f, err := os.Open(p.path)
	if os.IsNotExist(err) {
		if required {
			return nil, fmt.Errorf("calendar file %q: %w", p.path, model.ErrProviderUnavailable)
		}
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("opening calendar file: %w", err))
	}
	defer func() { _ = f.Close() }()

	cal, err := ical.ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar file %q: %w", p.path, err)
	}
	return cal, nil
}

// save writes the calendar atomically (temp file + rename) so subscribers
// never observe a half-written file.
func (p *Provider) save(cal *ical.Calendar) error {
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cal.Serialize()), 0o600); err != nil {
		return classify(fmt.Errorf("writing calendar file: %w", err))
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return classify(fmt.Errorf("replacing calendar file: %w", err))
	}
	return nil
}

// classify maps OS-level permission failures to the shared taxonomy.
func classify(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return err
}

// --- ICS helpers -------------------------------------------------------------

func findEvent(cal *ical.Calendar, courseID, blockID string) *ical.VEvent {
	for _, ve := range cal.Events() {
		if eventProp(ve, propCourse) == courseID && eventProp(ve, propBlock) == blockID {
			return ve
		}
	}
	return nil
}

func eventProp(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func calendarProp(cal *ical.Calendar, token string) string {
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == token {
			return p.Value
		}
	}
	return ""
}

func eventDescription(item model.ScheduleItem) string {
	desc := item.Description
	if item.DeepLink != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += item.DeepLink
	}
	return desc
}

func colorHex(argb int32) string {
	return fmt.Sprintf("#%06X", uint32(argb)&0xFFFFFF)
}

func parseColorHex(s string) int32 {
	s = strings.TrimPrefix(s, "#")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	// Stored as RGB; display alpha is always opaque.
	return int32(0xFF000000 | uint32(v))
}
