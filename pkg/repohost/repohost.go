// Package repohost declares the abstract Git-hosting collaborator the
// checker core calls out to for fork/branch/commit bookkeeping. The concrete
// GitLab/GitHub client is an external collaborator specified only at this
// interface; no implementation lives in this module.
package repohost

import "context"

// User is a hosting-platform account, mirroring the fields the checker core
// needs out of a GitLab/GitHub user lookup.
type User struct {
	ID        int
	Username  string
	Firstname string
	Lastname  string
	Email     string
}

// CommitMetadata describes a single commit on a tracked branch.
type CommitMetadata struct {
	SHA       string
	Message   string
	Author    string
	Branch    string
	Timestamp int64
}

// RepoHost is the Git-hosting client contract: forking a course repo per
// student, resolving the acting user, pushing graded branches back, and
// inspecting recent commit history for change detection.
type RepoHost interface {
	// CreateFork creates (or returns the existing) per-student fork of the
	// named source repository under the student's namespace.
	CreateFork(ctx context.Context, sourceRepo, username string) (repoURL string, err error)

	// GetUser resolves a hosting-platform account by username.
	GetUser(ctx context.Context, username string) (User, error)

	// PushBranch pushes the contents of localDir to branch on repoURL,
	// creating the branch if it does not exist.
	PushBranch(ctx context.Context, repoURL, branch, localDir, commitMessage string) error

	// GetCommitMetadata returns metadata for the named branch's HEAD commit.
	GetCommitMetadata(ctx context.Context, repoURL, branch string) (CommitMetadata, error)

	// ListChangedFiles returns the paths that differ between two commits
	// (or branch refs) on repoURL.
	ListChangedFiles(ctx context.Context, repoURL, fromRef, toRef string) ([]string, error)
}
