package backtest

// Phase identifies which stage of a run produced an error
type Phase string

const (
	PhaseSimple      Phase = "simple"
	PhaseWalkForward Phase = "walk-forward"
	PhaseMonteCarlo  Phase = "monte-carlo"
)

// ErrBacktest wraps a run failure with the phase it originated from
type ErrBacktest struct {
	Phase   Phase
	Message string
	Err     error
}

func (e *ErrBacktest) Error() string {
	msg := string(e.Phase) + " backtest error: " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ErrBacktest) Unwrap() error {
	return e.Err
}

// ErrStrategy wraps a failure inside a strategy hook. Strategy errors are
// fatal to the current run and never retried.
type ErrStrategy struct {
	Op  string // "generate_signal" or "update_parameters"
	Err error
}

func (e *ErrStrategy) Error() string {
	if e.Err != nil {
		return "strategy error in " + e.Op + ": " + e.Err.Error()
	}
	return "strategy error in " + e.Op
}

func (e *ErrStrategy) Unwrap() error {
	return e.Err
}
