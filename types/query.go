package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// QueryParams is the request body shared by /documents/search and
// /documents/chat. DocumentID narrows retrieval to a single document.
type QueryParams struct {
	Query      string `json:"query" validate:"required"`
	DocumentID *int64 `json:"document_id,omitempty" validate:"omitempty,gt=0"`
	Limit      int    `json:"limit,omitempty" validate:"gte=0,lte=20"`
}

func (params *QueryParams) Validate() map[string]string {
	validate := validator.New()
	if err := validate.Struct(params); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
