package gitsync

import (
	"encoding/json"
	"net/url"
	"os"
	"strings"
)

// maxAuthAttempts caps the credential chain per git call.
const maxAuthAttempts = 4

type providerRule struct {
	name       string
	match      func(host string) bool
	candidates func(rc RemoteConfig) []Credentials
}

// Ordered provider heuristics: the explicit username+token pair always goes
// first, followed by the provider's token-as-username convention. The
// generic rule matches last, so adding a provider is a table entry, not a
// new branch.
var providerRules = []providerRule{
	{
		name:  "github",
		match: hostSuffix("github.com"),
		candidates: func(rc RemoteConfig) []Credentials {
			return []Credentials{
				{Username: rc.Username, Password: rc.Token},
				{Username: rc.Token, Password: "x-oauth-basic"},
			}
		},
	},
	{
		name:  "gitlab",
		match: hostSuffix("gitlab.com"),
		candidates: func(rc RemoteConfig) []Credentials {
			return []Credentials{
				{Username: rc.Username, Password: rc.Token},
				{Username: "oauth2", Password: rc.Token},
			}
		},
	},
	{
		name:  "bitbucket",
		match: hostSuffix("bitbucket.org"),
		candidates: func(rc RemoteConfig) []Credentials {
			return []Credentials{
				{Username: rc.Username, Password: rc.Token},
				{Username: "x-token-auth", Password: rc.Token},
			}
		},
	},
	{
		name:  "generic",
		match: func(string) bool { return true },
		candidates: func(rc RemoteConfig) []Credentials {
			return []Credentials{
				{Username: rc.Username, Password: rc.Token},
				{Username: "oauth2", Password: rc.Token},
				{Username: rc.Token, Password: rc.Token},
			}
		},
	},
}

func hostSuffix(suffix string) func(string) bool {
	return func(host string) bool { return strings.HasSuffix(host, suffix) }
}

// CandidatesFor generates the ordered, deduplicated credential list for a
// remote. Empty pairs are dropped; an all-empty config yields nil, meaning
// one anonymous attempt.
func CandidatesFor(rc RemoteConfig) []Credentials {
	host := hostOf(rc.URL)
	var raw []Credentials
	for _, r := range providerRules {
		if r.match(host) {
			raw = r.candidates(rc)
			break
		}
	}
	seen := map[Credentials]bool{}
	var out []Credentials
	for _, c := range raw {
		if c.Username == "" && c.Password == "" {
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) > maxAuthAttempts {
		out = out[:maxAuthAttempts]
	}
	return out
}

func hostOf(remote string) string {
	u, err := url.Parse(remote)
	if err != nil || u.Host == "" {
		return remote
	}
	return u.Hostname()
}

// The cached credentials file lives inside the working clone, plaintext and
// local-only (never pushed; the engine keeps it in .gitignore). It lets a
// session retry sync without re-prompting.

func loadCachedCredentials(path string) (RemoteConfig, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RemoteConfig{}, false
	}
	var rc RemoteConfig
	if err := json.Unmarshal(b, &rc); err != nil {
		return RemoteConfig{}, false
	}
	return rc, rc.URL != ""
}

func saveCachedCredentials(path string, rc RemoteConfig) error {
	b, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
