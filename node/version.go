package node

import (
	"go.uber.org/zap"
)

// Set with -ldflags "-X github.com/fzft/go-mock-webserver/node.gitSHA1=..." at build time.
var (
	gitSHA1   = "unknown"
	gitDirty  = "unknown"
	buildID   = "unknown"
	buildDate = "unknown"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	GitSHA1   string
	GitDirty  string
	BuildID   string
	BuildDate string
}

func Build() BuildInfo {
	return BuildInfo{GitSHA1: gitSHA1, GitDirty: gitDirty, BuildID: buildID, BuildDate: buildDate}
}

// ID concatenates every field into one opaque build identifier.
func (b BuildInfo) ID() string {
	return b.BuildID + b.BuildDate + b.GitSHA1 + b.GitDirty
}

func (b BuildInfo) Fields() []zap.Field {
	return []zap.Field{
		zap.String("git_sha1", b.GitSHA1),
		zap.String("git_dirty", b.GitDirty),
		zap.String("build_date", b.BuildDate),
		zap.String("build_id", b.ID()),
	}
}
