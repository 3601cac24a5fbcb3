package pipeline

import "fmt"

// Disposition classifies how a stage invocation ended. The runner keys its
// retry behavior off this: only Retriable results are re-run.
type Disposition int

const (
	// Completed means the stage did its work.
	Completed Disposition = iota
	// Skipped means the work was already done or no longer applies. Not an
	// error: skips are how replays and races resolve quietly.
	Skipped
	// Retriable means a transient failure; running the stage again may
	// succeed.
	Retriable
	// Terminal means the failure is permanent and retrying cannot help.
	Terminal
)

func (d Disposition) String() string {
	switch d {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Retriable:
		return "retriable"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Result is the outcome of one stage invocation.
type Result struct {
	Disposition Disposition
	Reason      string
	Err         error
}

func done() Result {
	return Result{Disposition: Completed}
}

func skip(reason string) Result {
	return Result{Disposition: Skipped, Reason: reason}
}

func retry(err error) Result {
	return Result{Disposition: Retriable, Err: err}
}

func fail(err error) Result {
	return Result{Disposition: Terminal, Err: err}
}
