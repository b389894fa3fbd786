package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Report fields by their json name
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := Validate.RegisterValidation("tag_name", validateTagName); err != nil {
		panic(fmt.Sprintf("failed to register tag_name validator: %v", err))
	}
	if err := Validate.RegisterValidation("rate_format", validateRateFormat); err != nil {
		panic(fmt.Sprintf("failed to register rate_format validator: %v", err))
	}
}

// AddTagRequest is the body of an add tag call
type AddTagRequest struct {
	Name string `json:"name" validate:"required,tag_name"`
}

// ReorderTagsRequest is the body of a reorder call. Pointers distinguish a
// missing index from index 0.
type ReorderTagsRequest struct {
	OldIndex *int `json:"old_index" validate:"required,min=0"`
	NewIndex *int `json:"new_index" validate:"required,min=0"`
}

// SyncRequest names the project a batch operation runs against
type SyncRequest struct {
	ProjectPath string `json:"project_path" validate:"required,max=4096"`
}

// validateTagName checks the shape of a submitted name. Blank names pass so
// the store reports them as not applied.
func validateTagName(fl validator.FieldLevel) bool {
	return checkTagShape(strings.TrimSpace(fl.Field().String())) == nil
}

// validateRateFormat accepts ulule formatted rates such as "50-S"
func validateRateFormat(fl validator.FieldLevel) bool {
	_, err := limiter.NewRateFromFormatted(fl.Field().String())
	return err == nil
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateTagName validates a tag name as typed by a user
func ValidateTagName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("invalid tag name: must not be empty")
	}
	return checkTagShape(name)
}

func checkTagShape(name string) error {
	switch {
	case len(name) > logger.MaxTagLength:
		return fmt.Errorf("invalid tag name: longer than %d bytes", logger.MaxTagLength)
	case strings.ContainsAny(name, "\n\r"):
		return fmt.Errorf("invalid tag name: must be a single line")
	}
	return nil
}

// ErrorMessage flattens validator errors into one line naming each failed field
func ErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
