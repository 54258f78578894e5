package events

import "github.com/crystal-mush/musedb/pkg/gamedb"

// EventType classifies database events.
type EventType int

const (
	EvCreate    EventType = iota // Object allocated
	EvDestroy                    // Object recycled (observer hook for combat, mail, etc.)
	EvRepair                     // Consistency pass corrected a field
	EvParent                     // Parent edge added
	EvUnparent                   // Parent edge removed
	EvAttrDef                    // User attribute defined
	EvAttrUndef                  // User attribute undefined
	EvLoaded                     // Database load finished
	EvSaved                      // Database written to disk
	EvGCPass                     // Full consistency pass finished
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvCreate:
		return "create"
	case EvDestroy:
		return "destroy"
	case EvRepair:
		return "repair"
	case EvParent:
		return "parent"
	case EvUnparent:
		return "unparent"
	case EvAttrDef:
		return "attr_def"
	case EvAttrUndef:
		return "attr_undef"
	case EvLoaded:
		return "loaded"
	case EvSaved:
		return "saved"
	case EvGCPass:
		return "gc_pass"
	default:
		return "unknown"
	}
}

// Event is a structured database event that flows through the bus.
type Event struct {
	Type    EventType
	Ref     gamedb.DBRef      // Subject object (Nothing for database-wide events)
	Related gamedb.DBRef      // Second object, e.g. the parent of EvParent
	ObjType gamedb.ObjectType // Type of Ref at the time of the event
	Text    string            // Human-readable summary
	Data    map[string]any    // Structured details
}
