package validator

import "github.com/go-playground/validator/v10"

var v *validator.Validate

func init() {
	v = validator.New()
}

func Instance() *validator.Validate {
	return v
}

// Validate checks the struct's `validate` tags and returns a field→code
// map, empty when the value is valid.
func Validate(i any) map[string]string {
	if err := v.Struct(i); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			out := make(map[string]string)
			for _, e := range errs {
				out[e.Field()] = mapTagToCode(e.Tag())
			}
			return out
		}
		return map[string]string{"_": "invalid"}
	}
	return nil
}

var tagMap = map[string]string{
	"required": "required",
	"gte":      "too_small_or_equal",
	"lte":      "too_large_or_equal",
	"gt":       "too_small",
	"lt":       "too_large",
	"min":      "too_short",
	"max":      "too_long",
	"url":      "invalid_url",
	"http_url": "invalid_http_url",
	"oneof":    "invalid_choice",
	"file":     "missing_file",
}

func mapTagToCode(tag string) string {
	if code, ok := tagMap[tag]; ok {
		return code
	}
	return "invalid"
}
