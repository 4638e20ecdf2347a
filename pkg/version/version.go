// pkg/version/version.go

package version

import "fmt"

// set by -ldflags "-X ChunkFS/pkg/version.version=..."
var (
	version      = "0.1-dev"
	revision     = "unknown"
	revisionDate = "unknown"
)

// Version returns `VERSION (REVISIONDATE REVISION)`.
func Version() string {
	return fmt.Sprintf("%v (%v %v)", version, revisionDate, revision)
}
