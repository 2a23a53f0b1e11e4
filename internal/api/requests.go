package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	messageRequired = "Message is required and must be a string"
	invalidBody     = "Invalid request body"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

type messageRequest struct {
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"sessionId" validate:"omitempty,max=128"`
	Provider  string `json:"provider" validate:"omitempty,alphanum,max=32"`
}

type escalateRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Reason    string `json:"reason" validate:"max=500"`
}

type tokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

var errBodyTooLarge = errors.New("Request body too large")

// decode reads a JSON body of at most limit bytes into v and validates it.
// The returned error is safe to show to the caller.
func decode(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var (
			sizeErr *http.MaxBytesError
			typeErr *json.UnmarshalTypeError
		)
		if errors.As(err, &sizeErr) {
			return errBodyTooLarge
		}
		if errors.As(err, &typeErr) && typeErr.Field == "message" {
			return errors.New(messageRequired)
		}
		return errors.New(invalidBody)
	}
	if err := validate.Struct(v); err != nil {
		return describe(err)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.New(invalidBody)
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "message":
		return errors.New(messageRequired)
	case fe.Tag() == "required":
		return fmt.Errorf("%s is required", fe.Field())
	case fe.Tag() == "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
