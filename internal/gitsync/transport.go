package gitsync

import "context"

// RemoteConfig identifies the remote repository and the caller's explicit
// credentials. Username and Token may be empty when the cached credentials
// file is expected to fill them in.
type RemoteConfig struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Credentials is one username/password pair attempted against the remote.
type Credentials struct {
	Username string
	Password string
}

// Transport abstracts the git layer. Implementations receive an onAuth
// callback producing ordered credential candidates per URL; it may be
// consulted multiple times per call as attempts fail.
type Transport interface {
	// ListRemoteRefs lists refs without cloning. An empty slice means the
	// remote exists but holds no data yet.
	ListRemoteRefs(ctx context.Context, url string) ([]string, error)

	// EnsureClone initializes a local working clone bound to main with the
	// remote registered, when none exists yet.
	EnsureClone(ctx context.Context, dir, url string) error

	// Pull fetches and merges main into the working clone.
	Pull(ctx context.Context, dir string) error

	// CommitAll stages everything and commits with the given message. This
	// is the single unified "ensure a commit exists" case: a clean tree on
	// an established branch commits nothing, while a clean tree on an
	// unborn branch still produces the empty initializing commit so the
	// ref exists. Reports whether a commit was created.
	CommitAll(ctx context.Context, dir, message string) (bool, error)

	// Push updates remote main, force-updating when force is set.
	Push(ctx context.Context, dir string, force bool) error

	// Wipe removes the working clone entirely (self-heal).
	Wipe(dir string) error
}
