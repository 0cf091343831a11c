// Package build contains build metadata for the mailsift binary.
package build

var (
	// AppName is the application name.
	AppName = "mailsift"

	// Slug is the identifier used for config and data directories.
	Slug = "mailsift"

	// Version is set at build time via -ldflags.
	Version = "0.0.0-dev"
)
