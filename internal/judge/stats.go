package judge

import "github.com/valpere/llmjudger/internal"

// ComputeStats aggregates settled responses. Mean confidence only counts
// determinate responses; Elapsed is left to the caller.
func ComputeStats(responses []internal.JudgmentResponse) internal.Stats {
	stats := internal.Stats{
		Total:           len(responses),
		FailuresByModel: make(map[string]int),
		ByModel:         make(map[string]internal.ModelStats),
	}

	var confSum float64
	var confN int
	modelConf := make(map[string]float64)
	modelConfN := make(map[string]int)

	for _, r := range responses {
		ms := stats.ByModel[r.Model]
		ms.Total++

		switch {
		case r.IsCorrect == nil:
			stats.Indeterminate++
			ms.Indeterminate++
		case *r.IsCorrect:
			stats.Correct++
			ms.Correct++
		default:
			stats.Incorrect++
			ms.Incorrect++
		}

		if r.IsCorrect != nil {
			confSum += r.Confidence
			confN++
			modelConf[r.Model] += r.Confidence
			modelConfN[r.Model]++
		}

		if r.Err != nil {
			stats.FailuresByModel[r.Model]++
			ms.Failures++
		}
		stats.ByModel[r.Model] = ms
	}

	if confN > 0 {
		stats.MeanConfidence = confSum / float64(confN)
	}
	for model, ms := range stats.ByModel {
		if n := modelConfN[model]; n > 0 {
			ms.MeanConfidence = modelConf[model] / float64(n)
			stats.ByModel[model] = ms
		}
	}
	return stats
}
