package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/keywords"
)

// Questionnaire captures structured job preferences. A zero salary bound means unset.
type Questionnaire struct {
	SalaryMin          float64  `mapstructure:"salary_min" json:"salary_min,omitempty" validate:"gte=0"`
	SalaryMax          float64  `mapstructure:"salary_max" json:"salary_max,omitempty" validate:"omitempty,gte=0,gtefield=SalaryMin"`
	PreferredLocations []string `mapstructure:"preferred_locations" json:"preferred_locations,omitempty"`
	RemoteOK           bool     `mapstructure:"remote_ok" json:"remote_ok"`
	CultureKeywords    []string `mapstructure:"culture_keywords" json:"culture_keywords,omitempty"`

	// Answers keeps every raw answer so the automator can fill application forms with them.
	Answers map[string]any `mapstructure:"-" json:"answers,omitempty"`
}

// HasSalary reports whether any salary bound was given.
func (q Questionnaire) HasSalary() bool {
	return q.SalaryMin > 0 || q.SalaryMax > 0
}

// aliases maps alternate answer keys onto the canonical ones.
var aliases = map[string]string{
	"preferred_salary_min": "salary_min",
	"preferred_salary_max": "salary_max",
	"locations":            "preferred_locations",
	"culture":              "culture_keywords",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseAnswers decodes free-form questionnaire answers into a Questionnaire.
// Locations and culture keywords are lower-cased and de-duplicated.
func ParseAnswers(answers map[string]any) (*Questionnaire, error) {
	if answers == nil {
		return nil, errs.InvalidArgument("questionnaire answers are empty")
	}

	canonical := make(map[string]any, len(answers))
	raw := make(map[string]any, len(answers))
	for key, value := range answers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		raw[key] = value
		canonical[strings.ToLower(key)] = value
	}
	for alias, target := range aliases {
		value, ok := canonical[alias]
		if !ok {
			continue
		}
		if _, exists := canonical[target]; !exists || canonical[target] == nil {
			canonical[target] = value
		}
		delete(canonical, alias)
	}

	var q Questionnaire
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &q,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build questionnaire decoder: %w", err)
	}
	if err := decoder.Decode(canonical); err != nil {
		return nil, errs.InvalidArgument("decode questionnaire: %v", err)
	}

	q.PreferredLocations = keywords.Unique(q.PreferredLocations)
	q.CultureKeywords = keywords.Unique(q.CultureKeywords)
	q.Answers = raw

	if err := Validate(&q); err != nil {
		return nil, err
	}

	return &q, nil
}

// Validate checks the questionnaire invariants, including salary_min <= salary_max.
func Validate(q *Questionnaire) error {
	if q == nil {
		return errs.InvalidArgument("questionnaire is empty")
	}
	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errs.InvalidArgument("questionnaire field %s failed %q check", strings.ToLower(fe.Field()), fe.Tag())
		}
		return errs.InvalidArgument("questionnaire: %v", err)
	}
	return nil
}
