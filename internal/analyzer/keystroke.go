package analyzer

import "github.com/stemsi/exstem-proctor/internal/model"

const (
	// MinKeystrokeSamples is the sample count below which no classification is attempted.
	MinKeystrokeSamples = 10

	automationMaxVariance = 100.0
	automationMaxMean     = 100.0
	humanMinVariance      = 5000.0
)

// ClassifyKeystrokes summarizes inter-keystroke intervals (milliseconds).
// The result depends only on the input.
func ClassifyKeystrokes(intervals []float64) model.KeystrokeProfile {
	n := len(intervals)
	if n < MinKeystrokeSamples {
		return model.KeystrokeProfile{
			Samples:        n,
			Classification: model.KeystrokeInsufficientData,
		}
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range intervals {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(n)

	class := model.KeystrokeAmbiguous
	switch {
	case variance < automationMaxVariance && mean < automationMaxMean:
		class = model.KeystrokeAutomationLikely
	case variance > humanMinVariance:
		class = model.KeystrokeHumanLikely
	}

	return model.KeystrokeProfile{
		Samples:        n,
		MeanInterval:   mean,
		Variance:       variance,
		Classification: class,
	}
}
