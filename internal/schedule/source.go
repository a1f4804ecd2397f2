// Package schedule reads materialized course schedules from a directory and
// converts them to the domain model. The fetch layer (outside this process)
// keeps the directory current: one enrollments.json plus one dates file per
// course under dates/.
//
// The package also provides a [Watcher] that maps filesystem events in that
// directory to course IDs so the sync engine can react to schedule changes
// without polling.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/njoerd114/coursecal/internal/model"
)

const (
	enrollmentsFile = "enrollments.json"
	datesDir        = "dates"
)

// DirSource reads schedules from a materialized-schedule directory.
type DirSource struct {
	dir string
	log *slog.Logger
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string, logger *slog.Logger) *DirSource {
	return &DirSource{dir: dir, log: logger}
}

// Items returns the current schedule items for a course. A missing dates file
// means the course has no schedule (empty, not an error) — the reconciler
// then removes any lingering events.
func (s *DirSource) Items(ctx context.Context, courseID string) ([]model.ScheduleItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reading schedule for %q: %w", courseID, err)
	}

	path := filepath.Join(s.dir, datesDir, courseID+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.log.Debug("no dates file for course", "course_id", courseID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dates file for %q: %w", courseID, err)
	}

	var blocks []dateBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("parsing dates file for %q: %w", courseID, err)
	}

	items := make([]model.ScheduleItem, 0, len(blocks))
	for i := range blocks {
		item, ok := blocks[i].toItem()
		if !ok {
			s.log.Debug("skipping date block with unusable date or key",
				"course_id", courseID,
				"title", blocks[i].Title,
				"date", blocks[i].Date,
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Enrollments returns the current enrollment listing.
func (s *DirSource) Enrollments(ctx context.Context) ([]model.EnrollmentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reading enrollments: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, enrollmentsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading enrollments file: %w", err)
	}

	var entries []enrollment
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing enrollments file: %w", err)
	}

	summaries := make([]model.EnrollmentSummary, 0, len(entries))
	for i := range entries {
		summaries = append(summaries, entries[i].toSummary())
	}
	return summaries, nil
}
