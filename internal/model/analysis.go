package model

// KeystrokeClass is the outcome of keystroke timing analysis.
type KeystrokeClass string

const (
	KeystrokeInsufficientData KeystrokeClass = "insufficientData"
	KeystrokeHumanLikely      KeystrokeClass = "humanLikely"
	KeystrokeAutomationLikely KeystrokeClass = "automationLikely"
	KeystrokeAmbiguous        KeystrokeClass = "ambiguous"
)

// KeystrokeProfile summarizes inter-keystroke intervals, in milliseconds.
type KeystrokeProfile struct {
	Samples        int            `json:"samples"`
	MeanInterval   float64        `json:"mean_interval"`
	Variance       float64        `json:"variance"`
	Classification KeystrokeClass `json:"classification"`
}

// Likelihood is the estimated chance that text was machine-generated.
type Likelihood string

const (
	LikelihoodLow    Likelihood = "low"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodHigh   Likelihood = "high"
)

// Recommendation is what a reviewer should do with an answer.
type Recommendation string

const (
	RecommendAccept        Recommendation = "accept"
	RecommendFlagForReview Recommendation = "flagForReview"
)

// TextProvenanceResult is the outcome of text provenance analysis.
// HumanMarkerScore is advisory and never offsets SuspicionScore.
type TextProvenanceResult struct {
	SuspicionScore   float64        `json:"suspicion_score"`
	HumanMarkerScore int            `json:"human_marker_score"`
	Likelihood       Likelihood     `json:"likelihood"`
	Recommendation   Recommendation `json:"recommendation"`
	MatchedPatterns  []string       `json:"matched_patterns,omitempty"`
}

// Flagged reports whether the answer should go to human review.
func (r *TextProvenanceResult) Flagged() bool {
	return r != nil && r.Recommendation == RecommendFlagForReview
}
