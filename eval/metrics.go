package eval

// RetrievalKValues are the k values at which P@k and R@k are computed.
var RetrievalKValues = []int{1, 3, 5, 10}

// precisionAtK computes what fraction of the top-k ranked ids are relevant.
// A ranking shorter than k is not padded.
func precisionAtK(ranked []string, relevant map[string]bool, k int) float64 {
	if len(ranked) == 0 || len(relevant) == 0 {
		return 0
	}
	top := ranked[:min(k, len(ranked))]
	hits := 0
	for _, id := range top {
		if relevant[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(top))
}

// recallAtK computes what fraction of the relevant ids appear in the
// top-k ranked ids.
func recallAtK(ranked []string, relevant map[string]bool, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	hits := 0
	for _, id := range ranked[:min(k, len(ranked))] {
		if relevant[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// reciprocalRank is 1/rank of the first relevant id, or 0 when none is
// ranked.
func reciprocalRank(ranked []string, relevant map[string]bool) float64 {
	for i, id := range ranked {
		if relevant[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
