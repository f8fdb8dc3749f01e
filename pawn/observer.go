package pawn

// Observer receives operational events from the engine. The metrics
// package provides the Prometheus implementation.
type Observer interface {
	CalculationCompleted(kind CalculationKind, method string)
	ChainOperation(op string, outcome string)
	ConfigFallback()
	AuditLogDropped()
	AuditLogFailed()
}

// Outcomes reported to Observer.ChainOperation.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

type NopObserver struct{}

func (NopObserver) CalculationCompleted(CalculationKind, string) {}
func (NopObserver) ChainOperation(string, string)                {}
func (NopObserver) ConfigFallback()                              {}
func (NopObserver) AuditLogDropped()                             {}
func (NopObserver) AuditLogFailed()                              {}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case IsConflict(err):
		return OutcomeConflict
	case IsNotFound(err):
		return OutcomeNotFound
	case IsClientError(err):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
