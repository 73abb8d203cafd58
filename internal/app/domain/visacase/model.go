// Package visacase holds the case description accepted by the prediction
// endpoints.
package visacase

// Supported visa categories.
var VisaTypes = []string{"F-1", "H-1B", "B1/B2", "L-1", "O-1", "J-1"}

// Supported sponsor types.
var SponsorTypes = []string{"employer", "university", "self", "family", "government"}

// Case is the structured description of a visa application as submitted to
// the serving layer. Field names mirror the public API payload.
type Case struct {
	Nationality        string   `json:"nationality"`
	VisaType           string   `json:"visa_type"`
	Consulate          string   `json:"consulate"`
	SubmissionDate     string   `json:"submission_date"` // YYYY-MM-DD
	DocumentsSubmitted []string `json:"documents_submitted"`
	SponsorType        string   `json:"sponsor_type"`
	PriorTravel        bool     `json:"prior_travel"`
}
