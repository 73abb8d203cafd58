// Package features converts a raw visa case description into the feature
// representations the model adapters consume. Encoding is deterministic:
// identical case input always yields identical features, and categorical
// codes are stable across model families so a model switch never
// reinterprets a feature.
package features

import (
	"fmt"
	"strings"
	"time"

	"github.com/visasight/prediction-service/internal/app/domain/visacase"
	"github.com/visasight/prediction-service/internal/errors"
)

// Vocabulary tables. Order is load-bearing: the categorical code of a value
// is its index, so entries must only ever be appended.
var (
	nationalities = []string{
		"India", "China", "Mexico", "Philippines", "Vietnam",
		"Brazil", "South Korea", "Nigeria", "United Kingdom", "Canada",
		"Germany", "Japan", "Taiwan", "Pakistan", "Bangladesh",
	}

	consulates = []string{
		"New Delhi", "Mumbai", "Chennai", "Hyderabad", "Kolkata",
		"Beijing", "Shanghai", "Guangzhou", "Shenyang",
		"Mexico City", "Guadalajara", "Ciudad Juarez",
		"Manila", "London", "Toronto", "Frankfurt", "Tokyo", "Seoul",
	}

	requiredDocuments = map[string][]string{
		"F-1":   {"Passport", "DS-160", "Photo", "I-20", "Financial Docs"},
		"H-1B":  {"Passport", "DS-160", "Photo", "I-797", "Employment Letter"},
		"B1/B2": {"Passport", "DS-160", "Photo"},
		"L-1":   {"Passport", "DS-160", "Photo", "I-797"},
		"O-1":   {"Passport", "DS-160", "Photo", "I-797"},
		"J-1":   {"Passport", "DS-160", "Photo", "I-20"},
	}
)

// FeatureNames is the ordered name of each vector slot.
var FeatureNames = []string{
	"nationality",
	"visa_type",
	"consulate",
	"sponsor_type",
	"document_count",
	"prior_travel",
	"days_since_submission",
	"document_completeness",
}

// Features is the encoded representation handed to adapters. Tabular
// families read Vector; transformer families read Prompt.
type Features struct {
	Vector []float64
	Names  []string
	Prompt string
}

// Encoder turns validated cases into Features. The clock is injectable so
// day-derived features are reproducible in tests.
type Encoder struct {
	now func() time.Time
}

// NewEncoder builds an encoder using wall-clock time.
func NewEncoder() *Encoder {
	return &Encoder{now: time.Now}
}

// NewEncoderAt builds an encoder with a fixed reference clock.
func NewEncoderAt(now func() time.Time) *Encoder {
	return &Encoder{now: now}
}

// Encode validates the case and produces its feature representations. It
// performs no I/O and fails with an invalid-case-data error when a required
// field is missing or outside its declared domain.
func (e *Encoder) Encode(c visacase.Case) (Features, error) {
	if strings.TrimSpace(c.Nationality) == "" {
		return Features{}, errors.InvalidCaseData("nationality is required")
	}
	if strings.TrimSpace(c.VisaType) == "" {
		return Features{}, errors.InvalidCaseData("visa_type is required")
	}
	if !contains(visacase.VisaTypes, c.VisaType) {
		return Features{}, errors.InvalidCaseData("unsupported visa_type %q (supported: %s)", c.VisaType, strings.Join(visacase.VisaTypes, ", "))
	}
	if strings.TrimSpace(c.Consulate) == "" {
		return Features{}, errors.InvalidCaseData("consulate is required")
	}
	if strings.TrimSpace(c.SponsorType) == "" {
		return Features{}, errors.InvalidCaseData("sponsor_type is required")
	}
	if !contains(visacase.SponsorTypes, c.SponsorType) {
		return Features{}, errors.InvalidCaseData("unsupported sponsor_type %q (supported: %s)", c.SponsorType, strings.Join(visacase.SponsorTypes, ", "))
	}
	if strings.TrimSpace(c.SubmissionDate) == "" {
		return Features{}, errors.InvalidCaseData("submission_date is required")
	}
	submitted, err := time.Parse("2006-01-02", c.SubmissionDate)
	if err != nil {
		return Features{}, errors.InvalidCaseData("submission_date must be YYYY-MM-DD: %v", err)
	}

	daysSince := int(e.now().UTC().Sub(submitted).Hours() / 24)
	if daysSince < 0 {
		daysSince = 0
	}

	priorTravel := 0.0
	if c.PriorTravel {
		priorTravel = 1.0
	}

	vector := []float64{
		float64(code(nationalities, c.Nationality)),
		float64(code(visacase.VisaTypes, c.VisaType)),
		float64(code(consulates, c.Consulate)),
		float64(code(visacase.SponsorTypes, c.SponsorType)),
		float64(len(c.DocumentsSubmitted)),
		priorTravel,
		float64(daysSince),
		Completeness(c.DocumentsSubmitted, c.VisaType),
	}

	return Features{
		Vector: vector,
		Names:  append([]string(nil), FeatureNames...),
		Prompt: prompt(c, daysSince),
	}, nil
}

// Completeness scores how much of the visa type's required document set was
// submitted, in [0,1].
func Completeness(documents []string, visaType string) float64 {
	required, ok := requiredDocuments[visaType]
	if !ok {
		required = []string{"Passport", "DS-160", "Photo"}
	}
	submitted := make(map[string]bool, len(documents))
	for _, doc := range documents {
		submitted[doc] = true
	}
	matched := 0
	for _, doc := range required {
		if submitted[doc] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// code returns the stable categorical code for value: its index in the
// vocabulary, or the out-of-vocabulary slot one past the end.
func code(vocabulary []string, value string) int {
	for i, known := range vocabulary {
		if known == value {
			return i
		}
	}
	return len(vocabulary)
}

// prompt renders the textual case description consumed by the transformer
// families.
func prompt(c visacase.Case, daysSince int) string {
	docs := "Not specified"
	if len(c.DocumentsSubmitted) > 0 {
		docs = strings.Join(c.DocumentsSubmitted, ", ")
	}
	travel := "No"
	if c.PriorTravel {
		travel = "Yes"
	}
	return fmt.Sprintf(
		"Nationality: %s\nVisa Type: %s\nConsulate: %s\nDocuments Submitted: %s\nDocument Count: %d\nSponsor Type: %s\nPrior US Travel: %s\nDays Since Submission: %d",
		c.Nationality, c.VisaType, c.Consulate, docs, len(c.DocumentsSubmitted), c.SponsorType, travel, daysSince,
	)
}

func contains(values []string, v string) bool {
	for _, known := range values {
		if known == v {
			return true
		}
	}
	return false
}
