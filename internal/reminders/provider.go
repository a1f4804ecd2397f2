// Package reminders implements a calendar provider on top of Apple Reminders
// via the go-eventkit library. The configured Reminders list acts as the
// course calendar; each schedule item becomes a reminder with the due time as
// its due date and a trailer line in the notes identifying the owning course
// and block.
//
// Methods accept context.Context for API consistency even though the
// underlying cgo calls are non-cancellable (sub-200ms latency).
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/coursecal/internal/model"
)

// EventKitClient is the subset of [ekreminders.Client] methods used by the
// provider. Defining it as an interface allows mock injection in tests.
type EventKitClient interface {
	Reminders(opts ...ekreminders.ListOption) ([]ekreminders.Reminder, error)
	CreateReminder(input ekreminders.CreateReminderInput) (*ekreminders.Reminder, error)
	UpdateReminder(id string, input ekreminders.UpdateReminderInput) (*ekreminders.Reminder, error)
	DeleteReminder(id string) error
}

// Provider exposes the calendar provider operations over a Reminders list.
// Create one with [NewProvider] or [NewProviderWithClient]. The calendar ID
// is the list name; EventKit has no rename-a-list API, so the configured
// list name is authoritative.
type Provider struct {
	client   EventKitClient
	listName string
	log      *slog.Logger
}

// NewProvider creates a Provider backed by a real EventKit client. This
// triggers the macOS TCC permissions prompt on first use.
func NewProvider(listName string, logger *slog.Logger) (*Provider, error) {
	c, err := ekreminders.New()
	if err != nil {
		return nil, fmt.Errorf("initialising reminders client: %w", err)
	}
	return &Provider{client: c, listName: listName, log: logger}, nil
}

// NewProviderWithClient creates a Provider with a caller-supplied client.
// Intended for testing with a mock [EventKitClient].
func NewProviderWithClient(client EventKitClient, listName string, logger *slog.Logger) *Provider {
	return &Provider{client: client, listName: listName, log: logger}
}

// HasPermission reports whether Reminders access has been granted.
func (p *Provider) HasPermission(_ context.Context) bool {
	_, err := p.client.Reminders(ekreminders.WithList(p.listName))
	return err == nil || !isAccessDenied(err)
}

// RequestPermission probes the client; the TCC prompt is shown by EventKit
// when the client is first constructed, so there is nothing further to ask.
func (p *Provider) RequestPermission(ctx context.Context) (bool, error) {
	return p.HasPermission(ctx), nil
}

// CreateOrRenameCalendar verifies the configured list is reachable and
// returns its name as the calendar ID. Title and color are ignored: Reminders
// lists are named and colored by the user in the Reminders app.
func (p *Provider) CreateOrRenameCalendar(_ context.Context, _ string, _ int32) (string, error) {
	if _, err := p.client.Reminders(ekreminders.WithList(p.listName)); err != nil {
		return "", classify(fmt.Errorf("probing reminders list %q: %w", p.listName, err))
	}
	p.log.Info("reminders list ready", "list", p.listName)
	return p.listName, nil
}

// DeleteCalendar removes every reminder we created in the list. The list
// itself stays: it belongs to the user, not to us.
func (p *Provider) DeleteCalendar(_ context.Context, calendarID string) error {
	rems, err := p.client.Reminders(ekreminders.WithList(calendarID))
	if err != nil {
		return classify(fmt.Errorf("fetching reminders for list %q: %w", calendarID, err))
	}
	for i := range rems {
		if _, _, _, ok := decodeMarker(rems[i].Notes); !ok {
			continue
		}
		if err := p.client.DeleteReminder(rems[i].ID); err != nil {
			return classify(fmt.Errorf("deleting reminder %q: %w", rems[i].ID, err))
		}
	}
	p.log.Info("cleared owned reminders", "list", calendarID)
	return nil
}

// CalendarData returns the list's identity. Color is not exposed by
// EventKit's reminders API, so it is reported as zero.
func (p *Provider) CalendarData(_ context.Context, calendarID string) (*model.CalendarIdentity, error) {
	if _, err := p.client.Reminders(ekreminders.WithList(calendarID)); err != nil {
		if isAccessDenied(err) {
			return nil, fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
		}
		// An unreachable list is treated as a missing calendar.
		return nil, nil
	}
	return &model.CalendarIdentity{CalendarID: calendarID, Title: calendarID}, nil
}

// UpsertEvent creates or fully overwrites the reminder for
// (courseID, item.BlockID) and returns its EventKit UID.
func (p *Provider) UpsertEvent(_ context.Context, calendarID, courseID string, item model.ScheduleItem) (string, error) {
	existing, err := p.findReminder(calendarID, courseID, item.BlockID)
	if err != nil {
		return "", err
	}

	if existing != "" {
		p.log.Debug("updating reminder", "uid", existing, "title", item.Title)
		if _, err := p.client.UpdateReminder(existing, itemToUpdateInput(courseID, item)); err != nil {
			return "", classify(fmt.Errorf("updating reminder %q: %w", existing, err))
		}
		return existing, nil
	}

	p.log.Debug("creating reminder", "title", item.Title, "list", calendarID)
	rem, err := p.client.CreateReminder(itemToCreateInput(calendarID, courseID, item))
	if err != nil {
		return "", classify(fmt.Errorf("creating reminder %q in list %q: %w", item.Title, calendarID, err))
	}
	return rem.ID, nil
}

// DeleteEvent removes the reminder for (courseID, blockID). Removing a
// missing reminder is not an error.
func (p *Provider) DeleteEvent(_ context.Context, calendarID, courseID, blockID string) error {
	uid, err := p.findReminder(calendarID, courseID, blockID)
	if err != nil {
		return err
	}
	if uid == "" {
		return nil
	}
	if err := p.client.DeleteReminder(uid); err != nil {
		return classify(fmt.Errorf("deleting reminder %q: %w", uid, err))
	}
	return nil
}

// ListEventKeys returns the keys of every reminder in the list owned by the
// given course. Reminders without a trailer line are the user's own and are
// skipped.
func (p *Provider) ListEventKeys(_ context.Context, calendarID, courseID string) ([]model.EventKey, error) {
	rems, err := p.client.Reminders(ekreminders.WithList(calendarID))
	if err != nil {
		return nil, classify(fmt.Errorf("fetching reminders for list %q: %w", calendarID, err))
	}

	var keys []model.EventKey
	for i := range rems {
		owner, blockID, hash, ok := decodeMarker(rems[i].Notes)
		if !ok || owner != courseID {
			continue
		}
		keys = append(keys, model.EventKey{BlockID: blockID, ContentHash: hash})
	}
	return keys, nil
}

func (p *Provider) findReminder(listName, courseID, blockID string) (string, error) {
	rems, err := p.client.Reminders(ekreminders.WithList(listName))
	if err != nil {
		return "", classify(fmt.Errorf("fetching reminders for list %q: %w", listName, err))
	}
	for i := range rems {
		owner, block, _, ok := decodeMarker(rems[i].Notes)
		if ok && owner == courseID && block == blockID {
			return rems[i].ID, nil
		}
	}
	return "", nil
}

// isAccessDenied detects the TCC denial error surfaced by go-eventkit.
func isAccessDenied(err error) bool {
	return err != nil && strings.Contains(err.Error(), "access denied")
}

func classify(err error) error {
	if isAccessDenied(err) {
		return fmt.Errorf("%w: %v", model.ErrPermissionDenied, err)
	}
	return err
}
