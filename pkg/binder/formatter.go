package binder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/segmentio/encoding/json"
)

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	return fmt.Sprintf("%q should be of type %s", strings.Trim(err.Field, "."), err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

// boundsUnit picks the unit named in min/max messages based on the kind of the
// offending field: numbers compare values, slices and strings compare lengths.
func boundsUnit(err validator.FieldError) string {
	//exhaustive:ignore
	switch err.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return ""
	case reflect.Slice:
		if err.Param() == "1" {
			return "element"
		}
		return "elements"
	default:
		if err.Param() == "1" {
			return "character"
		}
		return "characters"
	}
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", field)
	case "min":
		if unit := boundsUnit(err); unit != "" {
			return fmt.Sprintf("%q length must be greater than or equal to %s %s", field, err.Param(), unit)
		}
		return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
	case "max":
		if unit := boundsUnit(err); unit != "" {
			return fmt.Sprintf("%q length must be less than or equal to %s %s", field, err.Param(), unit)
		}
		return fmt.Sprintf("%q must be less than or equal to %s", field, err.Param())
	case "oneof":
		valids := []string{}
		for _, p := range strings.Fields(err.Param()) {
			valids = append(valids, fmt.Sprintf("%q", p))
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(valids, ", "))
	default:
		return fmt.Sprintf("%q is invalid", field)
	}
}
