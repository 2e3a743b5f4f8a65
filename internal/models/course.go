package models

import (
	"time"

	"github.com/google/uuid"
)

type Course struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Credit      int       `json:"credit"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateCourseRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Title       string `json:"title" validate:"required,max=200"`
	Credit      int    `json:"credit" validate:"gte=0,lte=30"`
	Description string `json:"description" validate:"max=1000"`
}

type EnrollRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1,dive,required"`
	Role      Role     `json:"role" validate:"required,oneof=STUDENT TEACHER"`
}

type EnrollResult struct {
	Message    string   `json:"message"`
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
}
