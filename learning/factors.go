package learning

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// importanceCutoff filters out features whose permutation importance is
// noise.
const importanceCutoff = 0.1

// Factor is one feature found to matter for episode success.
type Factor struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Direction  float64 `json:"direction"`
}

// AnalyzeSuccessFactors fits a simple nearest-centroid success model over
// the numeric features and measures each feature's permutation
// importance: how much shuffling that feature degrades accuracy.
// Features above the cutoff are reported with the sign of their
// correlation with success.
func AnalyzeSuccessFactors(rows []EpisodeFeatures) []Factor {
	if len(rows) < 4 {
		return nil
	}
	hasBoth := false
	var successes, failures int
	for _, row := range rows {
		if row.Success {
			successes++
		} else {
			failures++
		}
	}
	hasBoth = successes > 0 && failures > 0
	if !hasBoth {
		return nil
	}

	features := make([][]float64, len(rows))
	labels := make([]bool, len(rows))
	for i, row := range rows {
		features[i] = numericFeatureVector(row)
		labels[i] = row.Success
	}
	standardize(features)

	model := fitCentroids(features, labels)
	baseline := accuracy(model, features, labels)

	rng := rand.New(rand.NewSource(1))
	factors := make([]Factor, 0, len(numericFeatureNames))
	for d, name := range numericFeatureNames {
		degraded := 0.0
		const rounds = 5
		for r := 0; r < rounds; r++ {
			shuffled := permuteColumn(features, d, rng)
			degraded += accuracy(model, shuffled, labels)
		}
		importance := baseline - degraded/rounds
		if importance < importanceCutoff {
			continue
		}
		factors = append(factors, Factor{
			Feature:    name,
			Importance: importance,
			Direction:  successCorrelation(features, labels, d),
		})
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].Importance > factors[j].Importance })
	return factors
}

type centroidModel struct {
	success []float64
	failure []float64
}

func fitCentroids(features [][]float64, labels []bool) centroidModel {
	dims := len(features[0])
	model := centroidModel{
		success: make([]float64, dims),
		failure: make([]float64, dims),
	}
	var nSuccess, nFailure float64
	for i, vec := range features {
		if labels[i] {
			nSuccess++
			for d, v := range vec {
				model.success[d] += v
			}
		} else {
			nFailure++
			for d, v := range vec {
				model.failure[d] += v
			}
		}
	}
	for d := range model.success {
		if nSuccess > 0 {
			model.success[d] /= nSuccess
		}
		if nFailure > 0 {
			model.failure[d] /= nFailure
		}
	}
	return model
}

func (m centroidModel) predict(vec []float64) bool {
	return euclidean(vec, m.success) <= euclidean(vec, m.failure)
}

func accuracy(m centroidModel, features [][]float64, labels []bool) float64 {
	correct := 0
	for i, vec := range features {
		if m.predict(vec) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features))
}

// permuteColumn returns a copy of the matrix with one column shuffled.
func permuteColumn(features [][]float64, col int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(features))
	column := make([]float64, len(features))
	for i, vec := range features {
		out[i] = append([]float64(nil), vec...)
		column[i] = vec[col]
	}
	rng.Shuffle(len(column), func(i, j int) { column[i], column[j] = column[j], column[i] })
	for i := range out {
		out[i][col] = column[i]
	}
	return out
}

func standardize(features [][]float64) {
	if len(features) == 0 {
		return
	}
	dims := len(features[0])
	for d := 0; d < dims; d++ {
		column := make([]float64, len(features))
		for i := range features {
			column[i] = features[i][d]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := range features {
			features[i][d] = (features[i][d] - mean) / std
		}
	}
}

func successCorrelation(features [][]float64, labels []bool, col int) float64 {
	x := make([]float64, len(features))
	y := make([]float64, len(features))
	for i := range features {
		x[i] = features[i][col]
		if labels[i] {
			y[i] = 1
		}
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}
