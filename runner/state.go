package runner

// State is a point in a run's lifecycle.
//
//	Configured -> PrimaryBuilt -> SecondaryBuilt* -> EntryPointRunning
//	  -> ServingAsync -> ShutdownRequested -> Closed
//
// Any step may move to Failed, which is terminal.
type State int

const (
	StateConfigured State = iota
	StatePrimaryBuilt
	StateSecondaryBuilt
	StateEntryPointRunning
	StateServingAsync
	StateShutdownRequested
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateConfigured:        "configured",
	StatePrimaryBuilt:      "primary-built",
	StateSecondaryBuilt:    "secondary-built",
	StateEntryPointRunning: "entry-point-running",
	StateServingAsync:      "serving-async",
	StateShutdownRequested: "shutdown-requested",
	StateClosed:            "closed",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
