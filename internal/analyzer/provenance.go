package analyzer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Phrases and structures typical of generated prose. Each match adds 1 to the suspicion score.
var generatedProsePatterns = []pattern{
	{"as_an_ai", regexp.MustCompile(`(?i)as an ai`)},
	{"no_personal", regexp.MustCompile(`(?i)i don't have personal`)},
	{"cannot_provide", regexp.MustCompile(`(?i)i cannot provide`)},
	{"important_to_note", regexp.MustCompile(`(?i)it's important to note`)},
	{"worth_noting", regexp.MustCompile(`(?i)however, it's worth noting`)},
	{"in_conclusion", regexp.MustCompile(`(?i)in conclusion`)},
	{"furthermore", regexp.MustCompile(`(?i)furthermore`)},
	{"nevertheless", regexp.MustCompile(`(?i)nevertheless`)},
	{"subsequently", regexp.MustCompile(`(?i)subsequently`)},
	{"moreover", regexp.MustCompile(`(?i)moreover`)},
	{"consequently", regexp.MustCompile(`(?i)consequently`)},
	{"therefore", regexp.MustCompile(`(?i)therefore`)},
	{"additionally", regexp.MustCompile(`(?i)additionally`)},
	{"firstly_secondly_thirdly", regexp.MustCompile(`(?is)firstly.*secondly.*thirdly`)},
	{"on_one_hand", regexp.MustCompile(`(?is)on one hand.*on the other hand`)},
}

// Informal markers typical of human writing. Each matching pattern adds 1 to the human marker score.
var humanMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(um|uh|like|you know|i mean|actually|basically|literally)\b`),
	regexp.MustCompile(`[.,!?]{2,}`),
	regexp.MustCompile(`(?i)\b(gonna|wanna|kinda|sorta)\b`),
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

const (
	// PatternLongSentences is reported when the sentence length bonus applies.
	PatternLongSentences = "long_sentences"

	longSentenceMinCount = 3
	longSentenceMinAvg   = 100.0
	longSentenceBonus    = 0.5

	highSuspicion   = 2.0
	mediumSuspicion = 1.0
)

// AnalyzeText scores an answer for signs of machine generation.
// The result depends only on the input.
func AnalyzeText(text string) model.TextProvenanceResult {
	var (
		score   float64
		matched []string
	)

	for _, p := range generatedProsePatterns {
		if p.re.MatchString(text) {
			score++
			matched = append(matched, p.name)
		}
	}

	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences > longSentenceMinCount {
		avg := float64(utf8.RuneCountInString(text)) / float64(sentences)
		if avg > longSentenceMinAvg {
			score += longSentenceBonus
			matched = append(matched, PatternLongSentences)
		}
	}

	human := 0
	for _, re := range humanMarkerPatterns {
		if re.MatchString(text) {
			human++
		}
	}

	return model.TextProvenanceResult{
		SuspicionScore:   score,
		HumanMarkerScore: human,
		Likelihood:       likelihood(score),
		Recommendation:   recommendation(score),
		MatchedPatterns:  matched,
	}
}

func likelihood(score float64) model.Likelihood {
	switch {
	case score > highSuspicion:
		return model.LikelihoodHigh
	case score > mediumSuspicion:
		return model.LikelihoodMedium
	default:
		return model.LikelihoodLow
	}
}

func recommendation(score float64) model.Recommendation {
	if score > highSuspicion {
		return model.RecommendFlagForReview
	}
	return model.RecommendAccept
}
