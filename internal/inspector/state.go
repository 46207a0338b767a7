package inspector

// State is a step of the pick workflow.
type State int

const (
	StateIdle State = iota
	StateEnabled
	StateNodePicked
	StateDataExtracted
	StateDisabled
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnabled:
		return "enabled"
	case StateNodePicked:
		return "node_picked"
	case StateDataExtracted:
		return "data_extracted"
	case StateDisabled:
		return "disabled"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}
