package domain

import "math/big"

// CycleOutcome is the per-cycle record written to the journal, the
// bookkeeping store and the outcome topic.
type CycleOutcome struct {
	Cycle      uint64   `json:"cycle"`
	Epoch      uint64   `json:"epoch"`
	Operator   string   `json:"operator"`
	TxRef      string   `json:"txRef,omitempty"`
	Earned     *big.Int `json:"earnedWei"`
	Fallbacks  int      `json:"fallbacks"`
	Swept      int      `json:"swept"`
	Failed     bool     `json:"failed"`
	Reason     string   `json:"reason,omitempty"`
	DurationMs int64    `json:"durationMs"`
}
