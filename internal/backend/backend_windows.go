//go:build windows

package backend

// windowsBackend is a placeholder for a ConPTY-backed implementation. The
// retrieval pack contains no ConPTY-capable reference code to ground an
// implementation against, so Spawn fails clearly rather than guessing at
// the Windows pseudo-console API surface.
type windowsBackend struct{}

// New returns the Backend variant for the running OS.
func New() Backend { return &windowsBackend{} }

func (windowsBackend) Spawn(spec SpawnSpec) (Handle, error) {
	return nil, &SpawnError{Command: spec.Command, Err: ErrUnsupportedPlatform}
}
