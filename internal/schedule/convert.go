package schedule

import (
	"time"

	"github.com/njoerd114/coursecal/internal/model"
)

// dateBlock mirrors the course platform's JSON representation of a single
// date entry, as materialized by the fetch layer.
type dateBlock struct {
	Date             string `json:"date"` // ISO 8601
	AssignmentType   string `json:"assignment_type"`
	DateType         string `json:"date_type"`
	Description      string `json:"description"`
	LearnerHasAccess bool   `json:"learner_has_access"`
	Link             string `json:"link"`
	Title            string `json:"title"`
	BlockID          string `json:"first_component_block_id"`
}

// enrollment mirrors the platform's enrollment-status JSON entry.
type enrollment struct {
	CourseID       string `json:"course_id"`
	CourseName     string `json:"course_name"`
	RecentlyActive bool   `json:"recently_active"`
}

// toItem converts a wire date block to the domain representation. It returns
// ok=false when the date is unparseable; such blocks are skipped, matching
// the platform's own behavior for malformed dates.
func (d *dateBlock) toItem() (model.ScheduleItem, bool) {
	due, err := time.Parse(time.RFC3339, d.Date)
	if err != nil {
		return model.ScheduleItem{}, false
	}

	blockID := d.BlockID
	if blockID == "" {
		// Course-level dates (start, end, certificate) carry no component
		// block; the date type is stable and unique for those.
		blockID = d.DateType
	}
	if blockID == "" {
		return model.ScheduleItem{}, false
	}

	return model.ScheduleItem{
		BlockID:          blockID,
		Title:            d.Title,
		Description:      d.Description,
		DueAt:            due,
		Kind:             model.KindFromString(d.DateType),
		AssignmentLabel:  d.AssignmentType,
		LearnerHasAccess: d.LearnerHasAccess,
		DeepLink:         d.Link,
	}, true
}

func (e *enrollment) toSummary() model.EnrollmentSummary {
	return model.EnrollmentSummary{
		CourseID:       e.CourseID,
		CourseName:     e.CourseName,
		RecentlyActive: e.RecentlyActive,
	}
}
