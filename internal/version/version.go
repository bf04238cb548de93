// Package version holds build information, set with -ldflags at build time.
package version

// Version is the release version, vX.Y.Z or vX.Y.Z-dev.
var Version = "v0.1.0-dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"

// String returns "Version (BuildTime)".
func String() string {
	return Version + " (" + BuildTime + ")"
}
