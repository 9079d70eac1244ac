// Package buildinfo carries the version, commit, and build-date strings
// stamped into the binary via ldflags, the way the donor CSI driver
// stamps driver.version/gitCommit/buildDate.
package buildinfo

const defaultVersion = "dev"

var (
	version   = defaultVersion
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Version returns the ldflags-stamped version, or "dev" if unset.
func Version() string { return version }

// GitCommit returns the ldflags-stamped commit hash, or "unknown" if unset.
func GitCommit() string { return gitCommit }

// BuildDate returns the ldflags-stamped build date, or "unknown" if unset.
func BuildDate() string { return buildDate }

// String renders all three fields for a --version flag or startup log line.
func String() string {
	return "hotsyncd version=" + version + " commit=" + gitCommit + " built=" + buildDate
}
