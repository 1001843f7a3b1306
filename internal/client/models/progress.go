package models

import "time"

// ProgressRecord is a lesson-completion fact queued for upload.
// ID is a local sequence and has no meaning on the server.
type ProgressRecord struct {
	ID              int64      `json:"id"`
	UserID          string     `json:"userId"`
	CourseID        string     `json:"courseId"`
	LessonID        string     `json:"lessonId"`
	ProgressPercent int        `json:"progressPercent"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	WrittenAt       int64      `json:"writtenAt"`
	Synced          bool       `json:"synced"`
	TenantID        string     `json:"tenantId"`
}

// ProgressKey identifies the lesson a record is about.
type ProgressKey struct {
	UserID   string
	CourseID string
	LessonID string
}

func (r ProgressRecord) Key() ProgressKey {
	return ProgressKey{UserID: r.UserID, CourseID: r.CourseID, LessonID: r.LessonID}
}

// ProgressInput is what callers supply when recording progress.
type ProgressInput struct {
	UserID          string     `json:"userId" validate:"notblank"`
	CourseID        string     `json:"courseId" validate:"notblank"`
	LessonID        string     `json:"lessonId" validate:"notblank"`
	ProgressPercent int        `json:"progressPercent" validate:"min=0,max=100"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	TenantID        string     `json:"tenantId" validate:"notblank"`
}
