package server

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// QueryRequest is the body of the query, context and ask endpoints.
// K of 0 means the configured top_k.
type QueryRequest struct {
	Query string `json:"query" validate:"required"`
	K     int    `json:"k" validate:"omitempty,min=1,max=100"`
}

func (params *QueryRequest) Validate() map[string]string {
	if err := validate.Struct(params); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type ContextResponse struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}
