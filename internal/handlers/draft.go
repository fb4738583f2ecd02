package handlers

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/domain"
	"github.com/xela07ax/spaceai-automation/internal/store"
)

func draftRetentionOutreach(ctx context.Context, db store.Store, params map[string]any) (domain.Draft, error) {
	studentID := stringParam(params, "student_id")
	student, err := findOne(ctx, db, ResourceStudents, "student", studentID)
	if err != nil {
		return domain.Draft{}, err
	}

	reason := stringParam(params, "reason")
	if reason == "" {
		reason = "no recent attendance"
	}
	name, _ := student["name"].(string)
	channel := "sms"
	if phone, _ := student["phone"].(string); phone == "" {
		channel = "email"
	}

	return domain.Draft{
		Title: "Retention outreach",
		Proposal: map[string]any{
			"student_id": studentID,
			"channel":    channel,
			"reason":     reason,
			"message": fmt.Sprintf("Hello %s, we noticed %s. Would you like to book a catch-up session this week?",
				name, reason),
		},
	}, nil
}

func draftCapacitySchedule(ctx context.Context, db store.Store, params map[string]any) (domain.Draft, error) {
	classID := stringParam(params, "class_id")
	rows, err := db.Select(ctx, store.From(ResourceStudents).Where("course_id", classID).Where("status", "active"))
	if err != nil {
		return domain.Draft{}, err
	}

	suggestion := stringParam(params, "suggestion")
	if suggestion == "" {
		switch enrolled := len(rows); {
		case enrolled == 0:
			suggestion = "pause the class until new enrollments arrive"
		case enrolled < 4:
			suggestion = "merge with a parallel group of the same level"
		case enrolled > 12:
			suggestion = "open an additional group"
		default:
			suggestion = "keep the current schedule"
		}
	}

	return domain.Draft{
		Title: "Schedule adjustment for class " + classID,
		Proposal: map[string]any{
			"class_id":   classID,
			"enrolled":   len(rows),
			"suggestion": suggestion,
		},
	}, nil
}
