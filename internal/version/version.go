package version

// Build-time variables (set via ldflags)
var (
	Version = "dev"
	Commit  = ""
)

func GetVersion() string {
	if Commit != "" {
		return Version + "+" + Commit
	}
	return Version
}

// UserAgent identifies this program to mesh gateways.
func UserAgent() string {
	return "mesh-node-stats/" + GetVersion()
}
