package reminders

import (
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/coursecal/internal/model"
)

func TestMarkerRoundTrip(t *testing.T) {
	line := encodeMarker("course-A", "block-1", -42)

	courseID, blockID, hash, ok := decodeMarker("some notes\n" + line)
	if !ok {
		t.Fatal("decodeMarker returned ok=false for an encoded marker")
	}
	if courseID != "course-A" || blockID != "block-1" || hash != -42 {
		t.Errorf("decoded (%q, %q, %d), want (course-A, block-1, -42)", courseID, blockID, hash)
	}
}

func TestDecodeMarkerForeignNotes(t *testing.T) {
	cases := []struct {
		name  string
		notes string
	}{
		{"empty", ""},
		{"plain text", "buy milk"},
		{"marker not on last line", markerPrefix + "c|b|1\nfollow-up text"},
		{"truncated marker", markerPrefix + "only-one-field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, ok := decodeMarker(tc.notes); ok {
				t.Errorf("decodeMarker(%q) claimed a foreign reminder", tc.notes)
			}
		})
	}
}

func TestDecodeMarkerBadHash(t *testing.T) {
	courseID, blockID, hash, ok := decodeMarker(markerPrefix + "c|b|not-a-number")
	if !ok {
		t.Fatal("marker with unparseable hash should still be claimed")
	}
	if courseID != "c" || blockID != "b" || hash != 0 {
		t.Errorf("got (%q, %q, %d), want (c, b, 0)", courseID, blockID, hash)
	}
}

func TestItemNotesLayout(t *testing.T) {
	item := model.ScheduleItem{
		BlockID:     "block-1",
		Title:       "Homework",
		Description: "Finish the problem set",
		DueAt:       time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
		Kind:        model.KindAssignmentDue,
		DeepLink:    "https://lms.example/blocks/block-1",
	}

	notes := itemNotes("course-A", item)
	lines := strings.Split(notes, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), notes)
	}
	if lines[0] != "Finish the problem set" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != item.DeepLink {
		t.Errorf("second line = %q", lines[1])
	}
	if _, _, hash, ok := decodeMarker(notes); !ok || hash != item.ContentHash() {
		t.Errorf("trailer does not decode to the item's content hash")
	}
}

func TestItemToInputsCarryDueDate(t *testing.T) {
	due := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	item := model.ScheduleItem{BlockID: "b", Title: "T", DueAt: due, Kind: model.KindAssignmentDue}

	create := itemToCreateInput("My Courses", "course-A", item)
	if create.DueDate == nil || !create.DueDate.Equal(due) {
		t.Errorf("create input due date = %v, want %v", create.DueDate, due)
	}
	if create.ListName != "My Courses" {
		t.Errorf("create input list = %q", create.ListName)
	}

	update := itemToUpdateInput("course-A", item)
	if update.DueDate == nil || !update.DueDate.Equal(due) {
		t.Errorf("update input due date = %v, want %v", update.DueDate, due)
	}
	if update.Title == nil || *update.Title != "T" {
		t.Errorf("update input title = %v", update.Title)
	}
}
