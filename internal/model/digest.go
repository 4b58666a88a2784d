package model

import "maps"

// Digest summarizes a batch's requested changes and returned results.
type Digest struct {
	Totals          DigestTotals   `json:"totals"`
	RequestedByType map[string]int `json:"requestedByType"`
	ExecutedByType  map[string]int `json:"executedByType"`
	SkipsByReason   map[string]int `json:"skipsByReason"`
	IntegrityFlags  IntegrityFlags `json:"integrityFlags"`
}

// DigestTotals holds the aggregate counts. Executed+Skipped always equals
// Results.
type DigestTotals struct {
	Requested int `json:"requested"`
	Results   int `json:"results"`
	Executed  int `json:"executed"`
	Skipped   int `json:"skipped"`
}

// IntegrityFlags are quick checks over a digest. Pending stays true until
// the operation reaches a terminal status.
type IntegrityFlags struct {
	HasErrors                   bool `json:"hasErrors"`
	HasSkips                    bool `json:"hasSkips"`
	ResultCountMatchesRequested bool `json:"resultCountMatchesRequested"`
	HadTimeout                  bool `json:"hadTimeout"`
	Pending                     bool `json:"pending"`
}

// Clone returns a deep copy of d.
func (d Digest) Clone() Digest {
	d.RequestedByType = maps.Clone(d.RequestedByType)
	d.ExecutedByType = maps.Clone(d.ExecutedByType)
	d.SkipsByReason = maps.Clone(d.SkipsByReason)
	return d
}
