package features

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/visasight/prediction-service/internal/app/domain/visacase"
	"github.com/visasight/prediction-service/internal/errors"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func sampleCase() visacase.Case {
	return visacase.Case{
		Nationality:        "India",
		VisaType:           "H-1B",
		Consulate:          "New Delhi",
		SubmissionDate:     "2026-01-15",
		DocumentsSubmitted: []string{"Passport", "DS-160", "Photo", "I-797", "Employment Letter", "Resume", "Transcripts", "Fee Receipt"},
		SponsorType:        "employer",
		PriorTravel:        true,
	}
}

func TestEncode_Deterministic(t *testing.T) {
	enc := NewEncoderAt(fixedClock)

	first, err := enc.Encode(sampleCase())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := enc.Encode(sampleCase())
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("encoding is not deterministic:\n%#v\n%#v", first, second)
	}

	changed := sampleCase()
	changed.VisaType = "F-1"
	third, err := enc.Encode(changed)
	if err != nil {
		t.Fatalf("encode changed: %v", err)
	}
	if reflect.DeepEqual(first.Vector, third.Vector) {
		t.Fatalf("different visa_type produced identical vector")
	}
}

func TestEncode_VectorContents(t *testing.T) {
	enc := NewEncoderAt(fixedClock)
	feats, err := enc.Encode(sampleCase())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if len(feats.Vector) != len(FeatureNames) {
		t.Fatalf("expected %d features, got %d", len(FeatureNames), len(feats.Vector))
	}
	if feats.Vector[0] != 0 { // India is the first vocabulary entry
		t.Fatalf("nationality code = %v, want 0", feats.Vector[0])
	}
	if feats.Vector[4] != 8 {
		t.Fatalf("document_count = %v, want 8", feats.Vector[4])
	}
	if feats.Vector[5] != 1 {
		t.Fatalf("prior_travel = %v, want 1", feats.Vector[5])
	}
	if feats.Vector[6] != 45 { // 2026-01-15 -> 2026-03-01
		t.Fatalf("days_since_submission = %v, want 45", feats.Vector[6])
	}
	if feats.Vector[7] != 1.0 { // all five H-1B required docs present
		t.Fatalf("document_completeness = %v, want 1.0", feats.Vector[7])
	}
}

func TestEncode_UnknownCategoryGetsStableFallbackCode(t *testing.T) {
	enc := NewEncoderAt(fixedClock)

	c := sampleCase()
	c.Nationality = "Atlantis"
	c.Consulate = "Nowhere"
	feats, err := enc.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if feats.Vector[0] != float64(len(nationalities)) {
		t.Fatalf("unknown nationality code = %v, want %d", feats.Vector[0], len(nationalities))
	}
	if feats.Vector[2] != float64(len(consulates)) {
		t.Fatalf("unknown consulate code = %v, want %d", feats.Vector[2], len(consulates))
	}
}

func TestEncode_InvalidInput(t *testing.T) {
	enc := NewEncoderAt(fixedClock)

	cases := map[string]func(*visacase.Case){
		"missing visa_type":      func(c *visacase.Case) { c.VisaType = "" },
		"unsupported visa_type":  func(c *visacase.Case) { c.VisaType = "Z-9" },
		"missing nationality":    func(c *visacase.Case) { c.Nationality = "" },
		"missing consulate":      func(c *visacase.Case) { c.Consulate = "" },
		"bad sponsor":            func(c *visacase.Case) { c.SponsorType = "patron" },
		"missing submission":     func(c *visacase.Case) { c.SubmissionDate = "" },
		"unparseable submission": func(c *visacase.Case) { c.SubmissionDate = "15/01/2026" },
	}

	for name, mutate := range cases {
		c := sampleCase()
		mutate(&c)
		if _, err := enc.Encode(c); !errors.IsKind(err, errors.KindInvalidCaseData) {
			t.Fatalf("%s: expected invalid_case_data, got %v", name, err)
		}
	}
}

func TestEncode_FutureSubmissionClampsDays(t *testing.T) {
	enc := NewEncoderAt(fixedClock)
	c := sampleCase()
	c.SubmissionDate = "2026-06-01"
	feats, err := enc.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if feats.Vector[6] != 0 {
		t.Fatalf("days_since_submission = %v, want 0 for future date", feats.Vector[6])
	}
}

func TestPromptRendering(t *testing.T) {
	enc := NewEncoderAt(fixedClock)
	feats, err := enc.Encode(sampleCase())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, want := range []string{"Nationality: India", "Visa Type: H-1B", "Prior US Travel: Yes", "Days Since Submission: 45"} {
		if !strings.Contains(feats.Prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, feats.Prompt)
		}
	}
}
