// Package digest summarizes a batch's outcome: per-kind counts, skip reason
// histograms, temp-id resolutions and retry hints.
package digest

import (
	"strings"

	"github.com/roach88/graphwriter/internal/model"
)

// Normalized skip reason codes.
const (
	ReasonMissingSourceVisual = "missingSourceVisual"
	ReasonMissingTargetVisual = "missingTargetVisual"
	ReasonAlreadyConnected    = "alreadyConnected"
	ReasonUnsupportedType     = "unsupportedType"
	ReasonUnknown             = "unknown"
)

// reasonKeywords maps free-text keywords to reason codes. First match wins.
var reasonKeywords = []struct {
	keyword string
	code    string
}{
	{"source", ReasonMissingSourceVisual},
	{"target", ReasonMissingTargetVisual},
	{"already", ReasonAlreadyConnected},
	{"unsupported", ReasonUnsupportedType},
}

// Input is everything Build needs to know about an operation.
type Input struct {
	Changes    []model.Change
	Results    []model.Result
	Status     model.Status
	HadTimeout bool
}

// Build counts requested changes by kind and returned results by kind,
// separating skipped results into a reason histogram.
func Build(in Input) model.Digest {
	d := model.Digest{
		RequestedByType: make(map[string]int),
		ExecutedByType:  make(map[string]int),
		SkipsByReason:   make(map[string]int),
	}

	d.Totals.Requested = len(in.Changes)
	for _, c := range in.Changes {
		d.RequestedByType[kindOf(c.Op())]++
	}

	d.Totals.Results = len(in.Results)
	for _, r := range in.Results {
		if r.Skipped {
			d.Totals.Skipped++
			d.SkipsByReason[ReasonCode(r)]++
			continue
		}
		d.Totals.Executed++
		d.ExecutedByType[kindOf(r.Op)]++
	}

	d.IntegrityFlags = model.IntegrityFlags{
		HasErrors:                   in.Status == model.StatusError,
		HasSkips:                    d.Totals.Skipped > 0,
		ResultCountMatchesRequested: d.Totals.Results == d.Totals.Requested,
		HadTimeout:                  in.HadTimeout,
		Pending:                     !in.Status.Terminal(),
	}
	return d
}

// ReasonCode returns the result's explicit reason code, or one derived from
// its free-text reason by keyword.
func ReasonCode(r model.Result) string {
	if r.ReasonCode != "" {
		return r.ReasonCode
	}
	return NormalizeReason(r.Reason)
}

// NormalizeReason maps a free-text skip reason to a reason code.
func NormalizeReason(reason string) string {
	lower := strings.ToLower(reason)
	for _, kw := range reasonKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.code
		}
	}
	return ReasonUnknown
}

func kindOf(op string) string {
	if op == "" {
		return "unknown"
	}
	return op
}
