package schema

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
)

// Preset selects how strictly Validate treats warnings (§4.F Validator).
type Preset int

const (
	Strict     Preset = iota // fail on any warning
	Standard                 // fail on errors only
	Permissive               // warn only, never fail
)

// FieldError pairs a field name with the reason validation failed.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationReport is the structured outcome of validating a transformed
// state against a target schema (§4.F Validator).
type ValidationReport struct {
	OK       bool
	Errors   []FieldError
	Warnings []FieldError
}

// CustomValidatorFunc is a registered named validator callable, dispatched
// by a "custom:<id>" validator string.
type CustomValidatorFunc func(value any) error

// Validator checks a transformed value against a target Schema: presence
// of required fields, type agreement, and the enumerated built-in
// validators (email, url, range, regex, length) plus custom ids (§4.F).
type Validator struct {
	customFuncs map[string]CustomValidatorFunc
}

func NewValidator() *Validator {
	return &Validator{customFuncs: make(map[string]CustomValidatorFunc)}
}

// RegisterCustom registers a named validator callable for "custom:<id>".
func (v *Validator) RegisterCustom(id string, fn CustomValidatorFunc) {
	v.customFuncs[id] = fn
}

// Validate checks value against schema under the given preset.
func (v *Validator) Validate(value map[string]any, s Schema, preset Preset) ValidationReport {
	report := ValidationReport{OK: true}

	for name, field := range s.Fields {
		val, present := value[name]
		if field.Required && !present {
			report.Errors = append(report.Errors, FieldError{Field: name, Reason: "required field is missing"})
			continue
		}
		if !present {
			continue
		}
		if !typeMatches(val, field.Type) {
			report.Errors = append(report.Errors, FieldError{Field: name, Reason: fmt.Sprintf("expected type %s", field.Type)})
			continue
		}
		for _, validator := range field.Validators {
			if err := v.runValidator(validator, val); err != nil {
				fe := FieldError{Field: name, Reason: err.Error()}
				if preset == Permissive {
					report.Warnings = append(report.Warnings, fe)
				} else {
					report.Errors = append(report.Errors, fe)
				}
			}
		}
	}

	switch preset {
	case Strict:
		report.OK = len(report.Errors) == 0 && len(report.Warnings) == 0
	case Permissive:
		report.OK = true
	default: // Standard
		report.OK = len(report.Errors) == 0
	}
	return report
}

func typeMatches(val any, t FieldType) bool {
	if t == TypeAny {
		return true
	}
	switch t {
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeNumber:
		_, ok := val.(float64)
		return ok
	case TypeBool:
		_, ok := val.(bool)
		return ok
	case TypeObject:
		_, ok := val.(map[string]any)
		return ok
	case TypeArray:
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

var rangeRe = regexp.MustCompile(`^range\(([-\d.]+),\s*([-\d.]+)\)$`)
var lengthRe = regexp.MustCompile(`^length\((\d+),\s*(\d+)\)$`)
var regexRe = regexp.MustCompile(`^regex\((.+)\)$`)
var customRe = regexp.MustCompile(`^custom:(.+)$`)

func (v *Validator) runValidator(name string, val any) error {
	switch {
	case name == "email":
		s, _ := val.(string)
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("invalid email: %v", err)
		}
		return nil
	case name == "url":
		s, _ := val.(string)
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid url: %q", s)
		}
		return nil
	case rangeRe.MatchString(name):
		m := rangeRe.FindStringSubmatch(name)
		var lo, hi float64
		fmt.Sscanf(m[1], "%g", &lo)
		fmt.Sscanf(m[2], "%g", &hi)
		f, ok := val.(float64)
		if !ok || f < lo || f > hi {
			return fmt.Errorf("value %v out of range [%s, %s]", val, m[1], m[2])
		}
		return nil
	case lengthRe.MatchString(name):
		m := lengthRe.FindStringSubmatch(name)
		var lo, hi int
		fmt.Sscanf(m[1], "%d", &lo)
		fmt.Sscanf(m[2], "%d", &hi)
		s, ok := val.(string)
		if !ok || len(s) < lo || len(s) > hi {
			return fmt.Errorf("length out of bounds [%s, %s]", m[1], m[2])
		}
		return nil
	case regexRe.MatchString(name):
		m := regexRe.FindStringSubmatch(name)
		re, err := regexp.Compile(m[1])
		if err != nil {
			return fmt.Errorf("invalid regex validator %q: %v", m[1], err)
		}
		s, ok := val.(string)
		if !ok || !re.MatchString(s) {
			return fmt.Errorf("value does not match pattern %q", m[1])
		}
		return nil
	case customRe.MatchString(name):
		m := customRe.FindStringSubmatch(name)
		fn, ok := v.customFuncs[m[1]]
		if !ok {
			return fmt.Errorf("no custom validator registered for id %q", m[1])
		}
		return fn(val)
	default:
		return fmt.Errorf("unknown validator %q", name)
	}
}
