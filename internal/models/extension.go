package models

import "github.com/go-playground/validator/v10"

// DuedateExtension moves the deadline of one task for one user.
// (user_id, task_id) is unique on the DB level.
type DuedateExtension struct {
	ID      int64 `db:"id" json:"id"`
	UserID  int64 `db:"user_id" json:"user_id" validate:"required,gt=0"`
	TaskID  int64 `db:"task_id" json:"task_id" validate:"required,gt=0"`
	Duedate int64 `db:"duedate" json:"duedate" validate:"gte=0"`
}

func (e *DuedateExtension) Validate() error {
	validate := validator.New()
	return validate.Struct(e)
}
