package trade

// State is the position of one settlement attempt in its lifecycle.
type State int

const (
	StateValidating      State = iota // inputs, pool existence and status
	StatePoolLocked                   // exclusive pool access, snapshot taken
	StatePriced                       // quote computed on the snapshot
	StateLedgerApplied                // balance debited (buy) or credited (sell)
	StatePoolApplied                  // reserves written conditionally on version
	StateHoldingsApplied              // holding incremented (buy) or decremented (sell)
	StateAuditWritten                 // trade record and fee accrual appended
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "VALIDATING"
	case StatePoolLocked:
		return "POOL_LOCKED"
	case StatePriced:
		return "PRICED"
	case StateLedgerApplied:
		return "LEDGER_APPLIED"
	case StatePoolApplied:
		return "POOL_APPLIED"
	case StateHoldingsApplied:
		return "HOLDINGS_APPLIED"
	case StateAuditWritten:
		return "AUDIT_WRITTEN"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}
