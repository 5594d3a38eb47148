package learning

import (
	"math"
	"sort"
)

// noiseLabel marks points DBSCAN could not assign to any cluster.
const noiseLabel = -1

// Pattern is one recurring task sequence found among successful
// episodes.
type Pattern struct {
	ClusterID      int        `json:"cluster_id"`
	Size           int        `json:"size"`
	Representative []string   `json:"representative"`
	EpisodeIDs     []string   `json:"episode_ids"`
	Centroid       []float64  `json:"-"`
	ToolVocabulary []string   `json:"-"`
	Sequences      [][]string `json:"-"`
}

// DetectPatterns clusters successful episodes by their tool-frequency
// vectors with DBSCAN and extracts a representative sequence of modal
// length per cluster.
func DetectPatterns(rows []EpisodeFeatures, successFraction, eps float64, minSamples int) []Pattern {
	if eps <= 0 {
		eps = 0.3
	}
	if minSamples <= 0 {
		minSamples = 3
	}
	if successFraction <= 0 {
		successFraction = 0.7
	}

	var successful []EpisodeFeatures
	for _, row := range rows {
		if row.SuccessRate > successFraction {
			successful = append(successful, row)
		}
	}
	if len(successful) < minSamples {
		return nil
	}

	vocab := toolVocabulary(successful)
	points := make([][]float64, len(successful))
	for i, row := range successful {
		points[i] = toolFrequencyVector(row, vocab)
	}

	labels := dbscan(points, eps, minSamples)

	byCluster := make(map[int][]int)
	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		byCluster[label] = append(byCluster[label], i)
	}

	var patterns []Pattern
	for cluster, members := range byCluster {
		if len(members) < minSamples {
			continue
		}
		p := Pattern{
			ClusterID:      cluster,
			Size:           len(members),
			ToolVocabulary: vocab,
			Centroid:       make([]float64, len(vocab)),
		}
		for _, idx := range members {
			p.EpisodeIDs = append(p.EpisodeIDs, successful[idx].EpisodeID)
			p.Sequences = append(p.Sequences, successful[idx].ToolSequence)
			for d := range vocab {
				p.Centroid[d] += points[idx][d]
			}
		}
		for d := range p.Centroid {
			p.Centroid[d] /= float64(len(members))
		}
		p.Representative = representativeSequence(p.Sequences)
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Size > patterns[j].Size })
	return patterns
}

// representativeSequence picks, among sequences of the modal length, the
// one whose per-position tools are most common across the group.
func representativeSequence(sequences [][]string) []string {
	if len(sequences) == 0 {
		return nil
	}
	lengthCount := make(map[int]int)
	for _, seq := range sequences {
		lengthCount[len(seq)]++
	}
	modalLen, modalCount := 0, 0
	for length, count := range lengthCount {
		if count > modalCount || (count == modalCount && length > modalLen) {
			modalLen, modalCount = length, count
		}
	}

	var candidates [][]string
	for _, seq := range sequences {
		if len(seq) == modalLen {
			candidates = append(candidates, seq)
		}
	}

	// Per-position modal tool, built from the candidates.
	positionCount := make([]map[string]int, modalLen)
	for i := range positionCount {
		positionCount[i] = make(map[string]int)
	}
	for _, seq := range candidates {
		for i, tool := range seq {
			positionCount[i][tool]++
		}
	}

	best := candidates[0]
	bestScore := -1
	for _, seq := range candidates {
		score := 0
		for i, tool := range seq {
			score += positionCount[i][tool]
		}
		if score > bestScore {
			best = seq
			bestScore = score
		}
	}
	return best
}

// dbscan labels points with cluster IDs; unassigned points get
// noiseLabel. Standard density-based expansion over euclidean distance.
func dbscan(points [][]float64, eps float64, minSamples int) []int {
	const unvisited = -2
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = noiseLabel
			continue
		}
		labels[i] = cluster

		queue := append([]int(nil), neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			jNeighbors := regionQuery(points, j, eps)
			if len(jNeighbors) >= minSamples {
				queue = append(queue, jNeighbors...)
			}
		}
		cluster++
	}
	return labels
}

func regionQuery(points [][]float64, idx int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if j == idx {
			continue
		}
		if euclidean(points[idx], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
