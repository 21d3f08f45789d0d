package upload

import "fmt"

// Stage names the step of an upload that failed.
type Stage string

const (
	StageLogin     Stage = "login"
	StageResolveSR Stage = "resolve-sr"
	StageCreate    Stage = "create"
	StageUUID      Stage = "uuid"
	StageStream    Stage = "stream"
	StageCleanup   Stage = "cleanup"
	StageLogout    Stage = "logout"
)

// StageError is returned by Upload. VDI is set once a disk exists on the
// remote side.
type StageError struct {
	Stage Stage
	VDI   string
	Err   error
}

func (e *StageError) Error() string {
	if e.VDI != "" {
		return fmt.Sprintf("upload %s (vdi %s): %v", e.Stage, e.VDI, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
