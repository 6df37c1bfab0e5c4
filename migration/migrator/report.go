package migrator

import (
	"github.com/stokaro/rekey/migration/entity"
	"github.com/stokaro/rekey/migration/ledger"
	"github.com/stokaro/rekey/migration/relocator"
)

// Outcome is the final state of one entity instance in a batch
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result describes what happened to one entity instance
type Result struct {
	OldID          string                 `json:"old_id"`
	NewID          string                 `json:"new_id,omitempty"`
	Name           string                 `json:"name,omitempty"`
	Outcome        Outcome                `json:"outcome"`
	Step           ledger.Step            `json:"step,omitempty"` // last lifecycle step completed
	Relocated      []relocator.TableCount `json:"relocated,omitempty"`
	LinksRewritten int64                  `json:"links_rewritten"`
	Err            error                  `json:"-"`
}

// Report aggregates the results of one batch
type Report struct {
	EntityType entity.Type `json:"entity_type"`
	RunID      string      `json:"run_id,omitempty"`
	Succeeded  int         `json:"succeeded"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Results    []Result    `json:"results"`
}

// Total returns the number of instances processed
func (r *Report) Total() int {
	return r.Succeeded + r.Skipped + r.Failed
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}
