package render

import "fmt"

// State is the playback state of a source stream.
type State int

const (
	// Idle streams hold no source.
	Idle State = iota
	// Playing streams render their current asset.
	Playing
	// Crossfading streams blend the outgoing asset into the successor, or
	// into silence when deactivating.
	Crossfading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Crossfading:
		return "crossfading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Trigger names a state transition.
type Trigger int

const (
	TriggerActivate Trigger = iota
	TriggerSwitch
	TriggerDeactivate
	TriggerEndOfAsset
	TriggerFadeComplete
	TriggerFault
)

func (t Trigger) String() string {
	switch t {
	case TriggerActivate:
		return "activate"
	case TriggerSwitch:
		return "switch"
	case TriggerDeactivate:
		return "deactivate"
	case TriggerEndOfAsset:
		return "end_of_asset"
	case TriggerFadeComplete:
		return "fade_complete"
	case TriggerFault:
		return "fault"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}
