package reminders

import (
	"fmt"
	"strconv"
	"strings"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/coursecal/internal/model"
)

// markerPrefix introduces the machine-readable trailer line appended to every
// reminder's notes. The trailer identifies the owning course and block and
// carries the content hash, so event keys are recoverable from EventKit alone.
const markerPrefix = "coursecal:"

// encodeMarker builds the notes trailer line for a schedule item.
func encodeMarker(courseID, blockID string, hash int64) string {
	return fmt.Sprintf("%s%s|%s|%d", markerPrefix, courseID, blockID, hash)
}

// decodeMarker extracts the (courseID, blockID, hash) triple from a
// reminder's notes. ok is false when the notes carry no trailer, which means
// the reminder was not created by us and must be left alone.
func decodeMarker(notes string) (courseID, blockID string, hash int64, ok bool) {
	lines := strings.Split(notes, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, markerPrefix) {
		return "", "", 0, false
	}
	parts := strings.SplitN(strings.TrimPrefix(last, markerPrefix), "|", 3)
	if len(parts) != 3 {
		return "", "", 0, false
	}
	hash, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		// A trailer we wrote but cannot parse back; claim the reminder
		// with a zero hash so the next sync rewrites it.
		hash = 0
	}
	return parts[0], parts[1], hash, true
}

// itemNotes renders the visible notes body plus the trailer line.
func itemNotes(courseID string, item model.ScheduleItem) string {
	var b strings.Builder
	if item.Description != "" {
		b.WriteString(item.Description)
		b.WriteString("\n")
	}
	if item.DeepLink != "" {
		b.WriteString(item.DeepLink)
		b.WriteString("\n")
	}
	b.WriteString(encodeMarker(courseID, item.BlockID, item.ContentHash()))
	return b.String()
}

// itemToCreateInput builds an EventKit CreateReminderInput from a schedule
// item destined for the given list.
func itemToCreateInput(listName, courseID string, item model.ScheduleItem) ekreminders.CreateReminderInput {
	due := item.DueAt
	return ekreminders.CreateReminderInput{
		Title:    item.Title,
		Notes:    itemNotes(courseID, item),
		ListName: listName,
		Priority: ekreminders.PriorityNone,
		DueDate:  &due,
	}
}

// itemToUpdateInput builds a full-overwrite UpdateReminderInput so the
// reminder ends up exactly mirroring the schedule item.
func itemToUpdateInput(courseID string, item model.ScheduleItem) ekreminders.UpdateReminderInput {
	title := item.Title
	notes := itemNotes(courseID, item)
	prio := ekreminders.PriorityNone
	due := item.DueAt
	return ekreminders.UpdateReminderInput{
		Title:    &title,
		Notes:    &notes,
		Priority: &prio,
		DueDate:  &due,
	}
}
