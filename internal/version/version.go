// Package version holds build information injected with -ldflags:
//
//	-X github.com/nexus-fundraising/nexus/internal/version.Version=1.2.0
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the build information as reported by the API.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s, built %s)", i.Version, i.GitCommit, i.BuildTime)
}
