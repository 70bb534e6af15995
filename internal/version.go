package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of comicchat
// This should be updated with each release
const Version = "1.0.0"

// VersionString is what -version prints.
func VersionString(binary string) string {
	return fmt.Sprintf("%s %s (%s/%s, %s)", binary, Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
