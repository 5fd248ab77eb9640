package eval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brunobiangulo/hipporeg"
	"github.com/brunobiangulo/hipporeg/retrieval"
)

// Retriever is the part of hipporeg.Service the evaluator drives.
type Retriever interface {
	Retrieve(ctx context.Context, jurisdiction string, req hipporeg.RetrieveRequest) (*retrieval.Response, error)
}

// Evaluator runs datasets against a retriever.
type Evaluator struct {
	retriever Retriever
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(r Retriever) *Evaluator {
	return &Evaluator{retriever: r}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	Jurisdiction    string                      `json:"jurisdiction"`
	TotalCases      int                         `json:"total_cases"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Outcomes        map[retrieval.Outcome]int   `json:"outcomes"`
	Results         []CaseResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across cases that ran.
type AggregateMetrics struct {
	Cases        int             `json:"cases"`
	MRR          float64         `json:"mrr"`
	AvgPrecision map[int]float64 `json:"avg_precision"` // k -> P@k
	AvgRecall    map[int]float64 `json:"avg_recall"`    // k -> R@k
}

// CaseResult holds the result of a single case.
type CaseResult struct {
	Name           string           `json:"name"`
	Category       string           `json:"category,omitempty"`
	Ranked         []string         `json:"ranked"`
	Relevant       []string         `json:"relevant"`
	Precision      map[int]float64  `json:"precision,omitempty"`
	Recall         map[int]float64  `json:"recall,omitempty"`
	ReciprocalRank float64          `json:"reciprocal_rank"`
	Trace          *retrieval.Trace `json:"trace,omitempty"`
	Error          string           `json:"error,omitempty"`
	ElapsedMs      int64            `json:"elapsed_ms"`
}

// Run executes every case of dataset. A failing case is recorded and
// excluded from the averages; only context cancellation aborts the run.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		Jurisdiction:    dataset.Jurisdiction,
		TotalCases:      len(dataset.Cases),
		CategoryMetrics: make(map[string]AggregateMetrics),
		Outcomes:        make(map[retrieval.Outcome]int),
	}

	var all accumulator
	byCategory := make(map[string]*accumulator)

	for i, c := range dataset.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := e.runCase(ctx, dataset.Jurisdiction, c)
		report.Results = append(report.Results, result)

		status := "ok"
		if result.Error != "" {
			status = "error"
			report.Errors++
		}
		slog.Info("eval: case complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Cases)),
			"status", status,
			"case", c.Name,
			"rr", fmt.Sprintf("%.2f", result.ReciprocalRank),
			"elapsed_ms", result.ElapsedMs)

		// Errors contribute all zeros, which would depress the averages.
		if result.Error != "" {
			continue
		}
		if result.Trace != nil {
			report.Outcomes[result.Trace.Outcome]++
		}
		all.add(result)
		if c.Category != "" {
			acc, ok := byCategory[c.Category]
			if !ok {
				acc = &accumulator{}
				byCategory[c.Category] = acc
			}
			acc.add(result)
		}
	}

	report.Metrics = all.mean()
	for cat, acc := range byCategory {
		report.CategoryMetrics[cat] = acc.mean()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, jurisdiction string, c Case) CaseResult {
	start := time.Now()
	result := CaseResult{
		Name:     c.Name,
		Category: c.Category,
		Relevant: c.Relevant,
	}

	resp, err := e.retriever.Retrieve(ctx, jurisdiction, hipporeg.RetrieveRequest{
		CandidateSeedIDs: c.Seeds,
		QueryEmbedding:   c.QueryEmbedding,
		TopK:             max(c.TopK, slices.Max(RetrievalKValues)),
	})
	result.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Trace = resp.Trace
	result.Ranked = make([]string, len(resp.Results))
	for i, r := range resp.Results {
		result.Ranked[i] = r.ID
	}

	relevant := idSet(c.Relevant)
	result.Precision = make(map[int]float64, len(RetrievalKValues))
	result.Recall = make(map[int]float64, len(RetrievalKValues))
	for _, k := range RetrievalKValues {
		result.Precision[k] = precisionAtK(result.Ranked, relevant, k)
		result.Recall[k] = recallAtK(result.Ranked, relevant, k)
	}
	result.ReciprocalRank = reciprocalRank(result.Ranked, relevant)
	return result
}

type accumulator struct {
	n         int
	rr        float64
	precision map[int]float64
	recall    map[int]float64
}

func (a *accumulator) add(r CaseResult) {
	if a.precision == nil {
		a.precision = make(map[int]float64)
		a.recall = make(map[int]float64)
	}
	a.n++
	a.rr += r.ReciprocalRank
	for _, k := range RetrievalKValues {
		a.precision[k] += r.Precision[k]
		a.recall[k] += r.Recall[k]
	}
}

func (a *accumulator) mean() AggregateMetrics {
	m := AggregateMetrics{
		Cases:        a.n,
		AvgPrecision: make(map[int]float64),
		AvgRecall:    make(map[int]float64),
	}
	if a.n == 0 {
		return m
	}
	n := float64(a.n)
	m.MRR = a.rr / n
	for _, k := range RetrievalKValues {
		m.AvgPrecision[k] = a.precision[k] / n
		m.AvgRecall[k] = a.recall[k] / n
	}
	return m
}
