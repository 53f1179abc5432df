// Package version holds build metadata set with -ldflags -X.
package version

import "time"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuiltAt parses BuildTime, returning the zero time when it is unset.
func BuiltAt() time.Time {
	if BuildTime == "" || BuildTime == "unknown" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}
