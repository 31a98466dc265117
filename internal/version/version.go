// Package version provides build and version information for DialogStudio.
package version

// Version is the current release version of DialogStudio.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/DialogStudio/internal/version.Version=x.y.z"
var Version = "0.1.0"
