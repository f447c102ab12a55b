package version

const (
	// Name is the program name reported by --version
	Name = "volume-lifecycle"

	// Version is the program version
	Version = "v0.1.0"
)
