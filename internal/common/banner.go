package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner prints the startup banner. Falls back to the compiled-in
// version when the caller passes an empty string.
func PrintBanner(version string) {
	if version == "" {
		version = GetVersion()
	}
	banner.PrintSimple("Specto", version)
}
