package version

// Version is the snapportal release, overridden at build time via
// -ldflags "-X snapportal/src/version.Version=...".
var Version = "dev"
