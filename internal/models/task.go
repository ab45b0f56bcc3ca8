package models

import (
	"github.com/go-playground/validator/v10"
)

const DefaultPoints = 100

type Task struct {
	ID           int64   `db:"id" json:"id"`
	CourseID     int64   `db:"course_id" json:"course_id" validate:"required,gt=0"`
	ServerRef    string  `db:"server_ref" json:"server_ref" validate:"required"`
	RemoteCourse string  `db:"remote_course" json:"remote_course" validate:"required"`
	RemoteTask   string  `db:"remote_task" json:"remote_task" validate:"required"`
	Duedate      int64   `db:"duedate" json:"duedate" validate:"gte=0"`
	IsGraded     bool    `db:"is_graded" json:"is_graded"`
	Points       float64 `db:"points" json:"points" validate:"gte=0"`
	// nil until a teacher decides whether grades are shared across courses
	PrivateGradePool *bool  `db:"private_grade_pool" json:"private_grade_pool"`
	UseHashedID      bool   `db:"use_hashed_id" json:"use_hashed_id"`
	LastSync         int64  `db:"last_sync" json:"last_sync"`
	Language         string `db:"language" json:"language"`
}

func (t *Task) Validate() error {
	validate := validator.New()
	return validate.Struct(t)
}

func (t *Task) PoolPending() bool {
	return t.PrivateGradePool == nil
}

func (t *Task) IsPrivatePool() bool {
	return t.PrivateGradePool != nil && *t.PrivateGradePool
}
