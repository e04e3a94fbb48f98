// Package version holds the build version, set at link time.
package version

// Version is the current version of machinist.
var Version = "0.1.0-dev"
