package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/hipporeg"
	"github.com/brunobiangulo/hipporeg/retrieval"
)

type fakeRetriever struct {
	rankings map[string][]string // first seed -> ranked ids
	requests []hipporeg.RetrieveRequest
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, req hipporeg.RetrieveRequest) (*retrieval.Response, error) {
	f.requests = append(f.requests, req)
	if len(req.CandidateSeedIDs) == 0 {
		return nil, hipporeg.ErrInvalidRequest
	}
	ranked, ok := f.rankings[req.CandidateSeedIDs[0]]
	if !ok {
		return nil, hipporeg.ErrSeedsDesynchronized
	}
	resp := &retrieval.Response{Trace: &retrieval.Trace{Outcome: retrieval.OutcomeConverged}}
	for _, id := range ranked {
		resp.Results = append(resp.Results, retrieval.Result{ID: id})
	}
	return resp, nil
}

func TestPrecisionRecallAtK(t *testing.T) {
	ranked := []string{"a", "b", "c", "d"}
	relevant := idSet([]string{"b", "d", "z"})

	assert.InDelta(t, 0.0, precisionAtK(ranked, relevant, 1), 1e-9)
	assert.InDelta(t, 1.0/3, precisionAtK(ranked, relevant, 3), 1e-9)
	// A ranking shorter than k is scored over what was returned.
	assert.InDelta(t, 0.5, precisionAtK(ranked, relevant, 10), 1e-9)

	assert.InDelta(t, 1.0/3, recallAtK(ranked, relevant, 3), 1e-9)
	assert.InDelta(t, 2.0/3, recallAtK(ranked, relevant, 10), 1e-9)

	assert.Zero(t, precisionAtK(nil, relevant, 5))
	assert.Zero(t, recallAtK(ranked, idSet(nil), 5))
}

func TestReciprocalRank(t *testing.T) {
	tests := []struct {
		name     string
		ranked   []string
		relevant []string
		want     float64
	}{
		{"first", []string{"a", "b"}, []string{"a"}, 1},
		{"third", []string{"a", "b", "c"}, []string{"c", "b"}, 0.5},
		{"none", []string{"a", "b"}, []string{"x"}, 0},
		{"empty ranking", nil, []string{"x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, reciprocalRank(tt.ranked, idSet(tt.relevant)), 1e-9)
		})
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gdpr-cases.yaml")
	yml := `jurisdiction: eu
cases:
  - name: lawfulness
    seeds: [gdpr-5]
    relevant: [gdpr-5, gdpr-6]
    category: direct
  - seeds: [gdpr-32]
    relevant: [gdpr-32]
    top_k: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	ds, err := LoadDataset(path)
	require.NoError(t, err)
	assert.Equal(t, "gdpr-cases", ds.Name)
	assert.Equal(t, "eu", ds.Jurisdiction)
	require.Len(t, ds.Cases, 2)
	assert.Equal(t, "lawfulness", ds.Cases[0].Name)
	assert.Equal(t, CategoryDirect, ds.Cases[0].Category)
	assert.Equal(t, "case-2", ds.Cases[1].Name)
	assert.Equal(t, 20, ds.Cases[1].TopK)

	jsonPath := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"x","cases":[{"seeds":["a"],"relevant":["a"]}]}`), 0644))
	ds, err = LoadDataset(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "x", ds.Name)
	require.Len(t, ds.Cases, 1)

	_, err = LoadDataset(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cases: {not: [a list"), 0644))
	_, err = LoadDataset(bad)
	assert.Error(t, err)
}

func TestEvaluatorRun(t *testing.T) {
	fake := &fakeRetriever{rankings: map[string][]string{
		"gdpr-5":  {"gdpr-5", "gdpr-32", "gdpr-6"},
		"gdpr-32": {"gdpr-32", "gdpr-5"},
	}}
	ds := Dataset{
		Name:         "gdpr",
		Jurisdiction: "eu",
		Cases: []Case{
			{Name: "direct", Seeds: []string{"gdpr-5"}, Relevant: []string{"gdpr-5"}, Category: CategoryDirect},
			{Name: "hop", Seeds: []string{"gdpr-32"}, Relevant: []string{"gdpr-5"}, Category: CategoryMultiHop},
			{Name: "stale", Seeds: []string{"gdpr-99"}, Relevant: []string{"gdpr-5"}, Category: CategoryDesynced},
		},
	}

	report, err := NewEvaluator(fake).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, "gdpr", report.Dataset)
	assert.Equal(t, 3, report.TotalCases)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, report.Results, 3)
	assert.Contains(t, report.Results[2].Error, "seeds missing")

	// Failed cases are left out of the averages.
	assert.Equal(t, 2, report.Metrics.Cases)
	assert.InDelta(t, 0.75, report.Metrics.MRR, 1e-9)
	assert.InDelta(t, 0.5, report.Metrics.AvgPrecision[1], 1e-9)
	assert.InDelta(t, 1.0, report.Metrics.AvgRecall[3], 1e-9)
	assert.Equal(t, 2, report.Outcomes[retrieval.OutcomeConverged])

	assert.InDelta(t, 1.0, report.CategoryMetrics[CategoryDirect].MRR, 1e-9)
	assert.InDelta(t, 0.5, report.CategoryMetrics[CategoryMultiHop].MRR, 1e-9)
	assert.NotContains(t, report.CategoryMetrics, CategoryDesynced)

	// Every request asks for at least the largest k.
	for _, req := range fake.requests {
		assert.Equal(t, 10, req.TopK)
	}
}

func TestEvaluatorRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEvaluator(&fakeRetriever{}).Run(ctx, Dataset{Cases: []Case{{Seeds: []string{"a"}}}})
	assert.True(t, errors.Is(err, context.Canceled))
}
