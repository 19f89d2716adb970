// Package validation checks field values against catalog constraints and
// coerces them to canonical types. Violations are accumulated, never
// short-circuited.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/mutationerr"
)

// Op distinguishes create-time from update-time rules.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
)

func (o Op) String() string {
	if o == OpUpdate {
		return "update"
	}
	return "create"
}

// RequiredOnCreate reports whether a create must provide a non-null value for f.
func RequiredOnCreate(et *catalog.EntityType, f *catalog.Field) bool {
	if f.Name == et.IDField || !f.Stored() || f.HasDefault {
		return false
	}
	return f.Required || !f.Nullable
}

// Validate checks values destined for an entity of type et. It returns a
// copy of values with scalars coerced and create-time defaults applied.
// Keys that do not name a stored field are copied through unchanged. To-one
// values are expected to be resolved identifiers and are only checked for
// presence.
func Validate(et *catalog.EntityType, values map[string]any, op Op) (map[string]any, mutationerr.List) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}

	var errs mutationerr.List
	for _, f := range et.StoredFields() {
		v, present := values[f.Name]

		if !present || v == nil {
			switch {
			case present && !f.Nullable && f.Name != et.IDField:
				errs.Add(mutationerr.New(mutationerr.MissingRequiredField, et.Name, f.Name, "%s cannot be null", f.Name))
			case op == OpCreate && !present && f.HasDefault:
				out[f.Name] = f.Default
				if coerced, err := Coerce(f.Type, f.Default); err == nil {
					out[f.Name] = coerced
				}
			case op == OpCreate && RequiredOnCreate(et, f):
				errs.Add(mutationerr.New(mutationerr.MissingRequiredField, et.Name, f.Name, "%s is required", f.Name))
			}
			continue
		}

		if f.Kind != catalog.Scalar {
			continue
		}
		coerced, err := Coerce(f.Type, v)
		if err != nil {
			errs.Add(mutationerr.New(mutationerr.TypeMismatch, et.Name, f.Name, "%s: %v", f.Name, err))
			continue
		}
		out[f.Name] = coerced
		for _, violation := range checkConstraints(f, coerced) {
			errs.Add(mutationerr.New(mutationerr.ConstraintViolation, et.Name, f.Name, "%s", violation))
		}
	}
	return out, errs
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// constraintTags builds one validator tag per catalog constraint on f so that
// every violated constraint is reported, not just the first.
func constraintTags(f *catalog.Field, v any) (any, []string) {
	var tags []string
	switch x := v.(type) {
	case string:
		if f.MinLength > 0 {
			tags = append(tags, "min="+strconv.Itoa(f.MinLength))
		}
		if f.MaxLength > 0 {
			tags = append(tags, "max="+strconv.Itoa(f.MaxLength))
		}
		if len(f.Choices) > 0 {
			tags = append(tags, "oneof="+oneOfParam(f.Choices))
		}
		return x, tags
	case int64:
		return numericTags(f, float64(x))
	case float64:
		return numericTags(f, x)
	}
	return v, nil
}

func numericTags(f *catalog.Field, num float64) (any, []string) {
	var tags []string
	if f.Min != nil {
		tags = append(tags, "gte="+formatFloat(*f.Min))
	}
	if f.Max != nil {
		tags = append(tags, "lte="+formatFloat(*f.Max))
	}
	return num, tags
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// oneOfParam quotes choices containing spaces and escapes the tag
// separators validator reserves.
func oneOfParam(choices []string) string {
	quoted := make([]string, len(choices))
	for i, c := range choices {
		c = strings.NewReplacer(",", "0x2C", "|", "0x7C").Replace(c)
		if c == "" || strings.ContainsAny(c, " \t") {
			c = "'" + c + "'"
		}
		quoted[i] = c
	}
	return strings.Join(quoted, " ")
}

func checkConstraints(f *catalog.Field, v any) []string {
	value, tags := constraintTags(f, v)
	var out []string
	for _, tag := range tags {
		err := validate.Var(value, tag)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			out = append(out, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		for _, fe := range fieldErrs {
			out = append(out, describeViolation(f, fe))
		}
	}
	return out
}

func describeViolation(f *catalog.Field, fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", f.Name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", f.Name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %v", f.Name, f.Choices)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", f.Name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", f.Name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s=%s", f.Name, fe.Tag(), fe.Param())
	}
}
