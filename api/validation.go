package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

type createTaskRequest struct {
	Title       string          `json:"title" validate:"title"`
	Description string          `json:"description" validate:"description"`
	Priority    domain.Priority `json:"priority" validate:"omitempty,priority"`
	ColumnID    domain.ColumnID `json:"columnId" validate:"omitempty,column"`
	Position    *int            `json:"position" validate:"omitempty,min=0"`
	AssignedTo  *string         `json:"assignedTo"`
	Tags        []string        `json:"tags" validate:"tags"`
	DueDate     *time.Time      `json:"dueDate"`
	IsCompleted bool            `json:"isCompleted"`
}

func (r createTaskRequest) task() domain.Task {
	t := domain.Task{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		ColumnID:    r.ColumnID,
		AssignedTo:  r.AssignedTo,
		Tags:        trimTags(r.Tags),
		DueDate:     r.DueDate,
		IsCompleted: r.IsCompleted,
	}
	t.Normalize()
	return t
}

// updateTaskRequest carries the fields to change. Absent (or null) fields are
// left untouched.
type updateTaskRequest struct {
	Title       *string          `json:"title" validate:"omitempty,title"`
	Description *string          `json:"description" validate:"omitempty,description"`
	Priority    *domain.Priority `json:"priority" validate:"omitempty,priority"`
	ColumnID    *domain.ColumnID `json:"columnId" validate:"omitempty,column"`
	Position    *int             `json:"position" validate:"omitempty,min=0"`
	AssignedTo  *string          `json:"assignedTo"`
	Tags        *[]string        `json:"tags" validate:"omitempty,tags"`
	DueDate     *time.Time       `json:"dueDate"`
	IsCompleted *bool            `json:"isCompleted"`
}

// apply copies the provided fields onto t. Placement fields are not touched.
func (r updateTaskRequest) apply(t domain.Task) domain.Task {
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.AssignedTo != nil {
		t.AssignedTo = r.AssignedTo
	}
	if r.Tags != nil {
		t.Tags = trimTags(*r.Tags)
	}
	if r.DueDate != nil {
		t.DueDate = r.DueDate
	}
	if r.IsCompleted != nil {
		t.IsCompleted = *r.IsCompleted
	}
	t.Normalize()
	return t
}

type moveTaskRequest struct {
	TaskID              string          `json:"taskId" validate:"required"`
	SourceColumnID      domain.ColumnID `json:"sourceColumnId" validate:"omitempty,column"`
	DestinationColumnID domain.ColumnID `json:"destinationColumnId" validate:"required,column"`
	NewIndex            *int            `json:"newIndex" validate:"required,min=0"`
}

func (r moveTaskRequest) move() domain.MoveRequest {
	return domain.MoveRequest{
		TaskID:              r.TaskID,
		SourceColumnID:      r.SourceColumnID,
		DestinationColumnID: r.DestinationColumnID,
		NewIndex:            *r.NewIndex,
	}
}

type requestValidator struct {
	v      *validator.Validate
	limits domain.Limits
}

func newRequestValidator(limits domain.Limits) *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("column", func(fl validator.FieldLevel) bool {
		return domain.ColumnID(fl.Field().String()).Valid()
	})
	must("priority", func(fl validator.FieldLevel) bool {
		return domain.Priority(fl.Field().String()).Valid()
	})
	must("title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return title != "" && utf8.RuneCountInString(title) <= limits.MaxTitleLength
	})
	must("description", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= limits.MaxDescriptionLength
	})
	must("tags", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Slice {
			return false
		}
		if field.Len() > limits.MaxTags {
			return false
		}
		for i := 0; i < field.Len(); i++ {
			tag := strings.TrimSpace(field.Index(i).String())
			if tag == "" || utf8.RuneCountInString(tag) > limits.MaxTagLength {
				return false
			}
		}
		return true
	})
	return &requestValidator{v: v, limits: limits}
}

// Validate checks req and converts failures to a domain.ValidationError.
func (rv *requestValidator) Validate(req any) error {
	err := rv.v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("body", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = rv.message(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func (rv *requestValidator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "title":
		if strings.TrimSpace(fmt.Sprint(fe.Value())) == "" {
			return "Task title is required"
		}
		return fmt.Sprintf("Task title must be less than %d characters", rv.limits.MaxTitleLength)
	case "description":
		return fmt.Sprintf("Task description must be less than %d characters", rv.limits.MaxDescriptionLength)
	case "priority":
		return "Invalid priority level"
	case "column":
		return "Invalid column"
	case "tags":
		return fmt.Sprintf("Maximum %d tags allowed, each less than %d characters", rv.limits.MaxTags, rv.limits.MaxTagLength)
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	}
	return "Invalid value"
}

func trimTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}
