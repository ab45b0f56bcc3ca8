package models

import "github.com/go-playground/validator/v10"

// GradeEvent is a single graded attempt as reported by the remote grading
// service. Raw is a fraction in [0, 1].
type GradeEvent struct {
	SyncID    string  `json:"syncid"`
	ObjectID  string  `json:"objectid,omitempty"`
	Raw       float64 `json:"raw"`
	Timestamp int64   `json:"timestamp"`
}

// Grade is a gradebook row. RawGrade is already scaled to the task points.
type Grade struct {
	TaskID       int64   `db:"task_id" json:"task_id"`
	UserID       int64   `db:"user_id" json:"user_id"`
	RawGrade     float64 `db:"raw_grade" json:"raw_grade"`
	TimeCreated  int64   `db:"time_created" json:"time_created"`
	OverriddenBy int64   `db:"overridden_by" json:"overridden_by,omitempty"`
	TimeModified int64   `db:"time_modified" json:"time_modified"`
}

func (g *Grade) Overridden() bool {
	return g.OverriddenBy != 0
}

type GradeOverride struct {
	RawGrade  float64 `json:"rawgrade" validate:"gte=0"`
	Timestamp int64   `json:"timestamp" validate:"required,gt=0"`
}

func (o *GradeOverride) Validate() error {
	validate := validator.New()
	return validate.Struct(o)
}
