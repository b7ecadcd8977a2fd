package progress

// CompletionRecord marks one lesson as passed by the owning user. Records are
// immutable through the public API and are only ever read back by the user
// identity they were written under.
type CompletionRecord struct {
	LessonID string    `json:"lessonId"`
	PassedAt Timestamp `json:"passedAt"`
}
