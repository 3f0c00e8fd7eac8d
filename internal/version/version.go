package version

// Version is the version of the binary, set at build time with
// -ldflags "-X github.com/hashicorp-forge/wopihost/internal/version.Version=...".
var Version = "0.1.0-dev"
