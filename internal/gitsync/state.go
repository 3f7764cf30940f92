package gitsync

import "errors"

// Mode is the conflict-resolution posture of one sync operation.
type Mode int

const (
	ModePush  Mode = iota // local state is the source of truth
	ModePull              // remote is the source of truth
	ModeMerge             // reconcile both
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	case ModeMerge:
		return "merge"
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "push":
		return ModePush, nil
	case "pull":
		return ModePull, nil
	case "merge":
		return ModeMerge, nil
	}
	return 0, errors.New("gitsync: unknown mode " + s)
}

// State tracks one sync operation. Terminal states are Done and Failed;
// Failed may trigger a single self-heal retry that wipes the working clone
// and restarts from Probing.
type State int

const (
	StateIdle State = iota
	StateProbing
	StatePulling
	StateImporting
	StateExporting
	StateCommitting
	StatePushing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StatePulling:
		return "pulling"
	case StateImporting:
		return "importing"
	case StateExporting:
		return "exporting"
	case StateCommitting:
		return "committing"
	case StatePushing:
		return "pushing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrBusy: callers must serialize Sync; a second concurrent call is
	// rejected, never interleaved against the same clone.
	ErrBusy = errors.New("gitsync: sync already in progress")

	ErrNetwork             = errors.New("gitsync: network failure")
	ErrRemoteAuth          = errors.New("gitsync: remote authentication failed")
	ErrRepositoryCorrupted = errors.New("gitsync: repository corrupted")
	ErrImportFailed        = errors.New("gitsync: payload import failed")
)

// IsCorruption is the corruption-signature classifier: only errors carrying
// a repository/ref corruption signature are eligible for the one self-heal
// retry. Timeouts and auth failures are not.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrRepositoryCorrupted)
}
