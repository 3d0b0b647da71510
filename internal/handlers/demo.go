// Package handlers provides the executor.Handler implementations for the
// four recognized task kinds, grounded on the original system's
// simulated-workload handlers: each does a small amount of real work on
// its payload and fails at a configurable rate to exercise the retry and
// breaker subsystems end to end.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/executor"
)

// FailureRates configures the synthetic failure probability per kind,
// letting operators dial up breaker/retry exercise in a demo deployment
// without touching handler code.
type FailureRates struct {
	TextProcessing  float64
	AISummarization float64
	BatchProcessing float64
	ImageProcessing float64
}

// DefaultFailureRates matches the original system's simulated defaults.
func DefaultFailureRates() FailureRates {
	return FailureRates{
		TextProcessing:  0.05,
		AISummarization: 0.15,
		BatchProcessing: 0.10,
		ImageProcessing: 0.20,
	}
}

// Register plugs the four demo handlers into an executor.
func Register(e *executor.Executor, rates FailureRates) {
	e.RegisterHandler("text_processing", textProcessing(rates.TextProcessing))
	e.RegisterHandler("ai_summarization", aiSummarization(rates.AISummarization))
	e.RegisterHandler("batch_processing", batchProcessing(rates.BatchProcessing))
	e.RegisterHandler("image_processing", imageProcessing(rates.ImageProcessing))
}

// maybeFail simulates an upstream dependency misbehaving, classified the
// way a real integration would raise it, so the retry engine's
// strategy-by-kind selection has something real to dispatch on.
func maybeFail(rate float64) error {
	if rate <= 0 || rand.Float64() >= rate {
		return nil
	}
	switch rand.Intn(3) {
	case 0:
		return apperr.New(apperr.KindTransientNetwork, fmt.Errorf("upstream connection reset"))
	case 1:
		return apperr.New(apperr.KindRateLimit, fmt.Errorf("rate limited by upstream"))
	default:
		return apperr.New(apperr.KindTransientStorage, fmt.Errorf("storage backend unavailable"))
	}
}

type textPayload struct {
	Text string `json:"text"`
}

type textResult struct {
	WordCount int `json:"word_count"`
	CharCount int `json:"char_count"`
}

// textProcessing counts words and characters, matching the happy-path
// seed scenario: {text:"abc def"} -> word_count=2, char_count=7.
func textProcessing(failureRate float64) executor.Handler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p textPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apperr.New(apperr.KindValidation, err)
		}
		if err := maybeFail(failureRate); err != nil {
			return nil, err
		}
		return json.Marshal(textResult{
			WordCount: len(strings.Fields(p.Text)),
			CharCount: len(p.Text),
		})
	}
}

type summarizePayload struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

type summarizeResult struct {
	Summary        string `json:"summary"`
	OriginalLength int    `json:"original_length"`
}

// aiSummarization truncates the input to max_length, standing in for a
// real summarization call behind the same handler boundary.
func aiSummarization(failureRate float64) executor.Handler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p summarizePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apperr.New(apperr.KindValidation, err)
		}
		if err := maybeFail(failureRate); err != nil {
			return nil, err
		}
		maxLen := p.MaxLength
		if maxLen <= 0 || maxLen > len(p.Text) {
			maxLen = len(p.Text)
		}
		return json.Marshal(summarizeResult{
			Summary:        p.Text[:maxLen],
			OriginalLength: len(p.Text),
		})
	}
}

type batchPayload struct {
	Items []json.Number `json:"items"`
}

type batchResult struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// batchProcessing sums a numeric item list, a stand-in for a map/reduce
// over a batch of independent records.
func batchProcessing(failureRate float64) executor.Handler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p batchPayload
		dec := json.NewDecoder(strings.NewReader(string(payload)))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return nil, apperr.New(apperr.KindValidation, err)
		}
		if err := maybeFail(failureRate); err != nil {
			return nil, err
		}
		var sum float64
		for _, n := range p.Items {
			f, err := n.Float64()
			if err != nil {
				return nil, apperr.New(apperr.KindValidation, err)
			}
			sum += f
		}
		return json.Marshal(batchResult{Count: len(p.Items), Sum: sum})
	}
}

type imagePayload struct {
	URL    string `json:"url"`
	Filter string `json:"filter"`
}

type imageResult struct {
	Filter    string `json:"filter_applied"`
	Processed bool   `json:"processed"`
}

// imageProcessing simulates the latency of a real transform pipeline
// then reports the filter applied.
func imageProcessing(failureRate float64) executor.Handler {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var p imagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, apperr.New(apperr.KindValidation, err)
		}
		if p.URL == "" {
			return nil, apperr.New(apperr.KindValidation, fmt.Errorf("url is required"))
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := maybeFail(failureRate); err != nil {
			return nil, err
		}
		filter := p.Filter
		if filter == "" {
			filter = "none"
		}
		return json.Marshal(imageResult{Filter: filter, Processed: true})
	}
}
