package host

// State is a stage of the host lifecycle.
type State int

// Lifecycle stages in the order the controller walks them.
const (
	StateStart State = iota
	StatePluginsLoaded
	StateScriptLoaded
	StateNativesChecked
	StateRunning
	StateTickLoop
	StateTornDown
)

var stateNames = [...]string{
	StateStart:          "Start",
	StatePluginsLoaded:  "PluginsLoaded",
	StateScriptLoaded:   "ScriptLoaded",
	StateNativesChecked: "NativesChecked",
	StateRunning:        "Running",
	StateTickLoop:       "TickLoop",
	StateTornDown:       "TornDown",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[s]
}
