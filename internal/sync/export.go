package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// LoanSource is the read side of the store the export needs.
type LoanSource interface {
	ListLoans(ctx context.Context, filter model.LoanFilter) ([]*model.Loan, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string                   `json:"version"`
	Type         string                   `json:"type"`
	Timestamp    time.Time                `json:"timestamp"`
	LoanCount    int                      `json:"loan_count"`
	StatusCounts map[model.LoanStatus]int `json:"status_counts"`
	Outstanding  float64                  `json:"outstanding"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the loan ledger as JSONL to w: a header with totals,
// then one record per loan sorted by ID. Outstanding sums the remaining
// balance of active loans.
func ExportJSONL(ctx context.Context, s LoanSource, w io.Writer) error {
	loans, err := s.ListLoans(ctx, model.LoanFilter{})
	if err != nil {
		return fmt.Errorf("list loans: %w", err)
	}

	sort.Slice(loans, func(i, j int) bool {
		return loans[i].ID < loans[j].ID
	})

	counts := make(map[model.LoanStatus]int)
	var outstanding float64
	for _, l := range loans {
		counts[l.Status]++
		if l.Status == model.LoanActive {
			outstanding += l.RemainingBalance
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		LoanCount:    len(loans),
		StatusCounts: counts,
		Outstanding:  math.Round(outstanding*100) / 100,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, l := range loans {
		if err := enc.Encode(record{Type: "loan", Data: l}); err != nil {
			return fmt.Errorf("encode loan %s: %w", l.ID, err)
		}
	}

	return nil
}
