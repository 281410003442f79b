package version

var (
	// Version is the version of watchpm, set at build time.
	Version = "v0.0.0"
	// GitCommit is the commit watchpm was built from, set at build time.
	GitCommit = "unknown"
)
