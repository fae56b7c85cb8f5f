package config

import "fmt"

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version this build cannot read.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade the connect SDK", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
}

// ValidateVersion ensures the provided config version is supported. A zero
// version means the file omitted it and is treated as current.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}
