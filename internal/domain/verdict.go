package domain

// SecurityVerdict is the outcome of validating transaction bytes before
// they are released to the signer. Advisory: the approval step that acts
// on it lives outside this engine.
type SecurityVerdict struct {
	Safe     bool
	Warnings []string
	Errors   []string
	Details  SecurityDetails
}

// SecurityDetails carries the facts the verdict was derived from.
type SecurityDetails struct {
	FeePayer             string
	FeePayerIsUser       bool
	UserIsSigner         bool
	ProgramIDs           []string
	UnknownPrograms      []string
	UsesKnownSwapProgram bool
	HasLookupTables      bool
}

// BroadcastResult is the outcome of fanning a signed transaction out to
// the configured destinations. Once Signature is set by any destination
// it is authoritative; later results cannot override it.
type BroadcastResult struct {
	Signature string
	SentVia   []string
	Err       *Error
}

// Succeeded reports whether any destination accepted the transaction.
func (r BroadcastResult) Succeeded() bool { return r.Signature != "" }

// ConfirmationStatus is the reconciled on-chain status of a signature.
type ConfirmationStatus struct {
	Processed     bool
	Confirmed     bool
	Finalized     bool
	LikelyDropped bool   // curve-route early-dropout heuristic fired
	Err           string // definitive on-chain error, if any
}

// Landed reports whether the transaction reached at least processed
// commitment without an on-chain error.
func (s ConfirmationStatus) Landed() bool {
	return s.Err == "" && (s.Processed || s.Confirmed || s.Finalized)
}
