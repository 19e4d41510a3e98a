package util

// Version is the realmcore release, overridden at link time with
// -ldflags "-X github.com/energizer-project/realmcore/internal/util.Version=...".
var Version = "0.1.0-dev"
