package gitsync

import (
	"github.com/EPX-PANCA/zenmius/internal/records"
	"github.com/EPX-PANCA/zenmius/internal/vault"
)

// mergePayload reconciles local and remote state for Merge mode. Vault
// entries carry UpdatedAt timestamps (RFC3339 UTC, so string order is time
// order) and the newer side wins. Record-store rows have no timestamps:
// local wins on ID conflict and remote-only rows are appended, so the merge
// never discards an entry that exists on only one side.
func mergePayload(local, remote Payload) Payload {
	out := local
	if out.Vault.Hosts == nil {
		out.Vault.Hosts = map[string]vault.Credential{}
	}
	for id, rc := range remote.Vault.Hosts {
		lc, ok := out.Vault.Hosts[id]
		if !ok || rc.UpdatedAt > lc.UpdatedAt {
			out.Vault.Hosts[id] = rc
		}
	}

	byName := map[string]int{}
	for i, s := range out.Vault.Secrets {
		byName[s.Name] = i
	}
	for _, rs := range remote.Vault.Secrets {
		if i, ok := byName[rs.Name]; ok {
			if rs.UpdatedAt > out.Vault.Secrets[i].UpdatedAt {
				out.Vault.Secrets[i] = rs
			}
			continue
		}
		out.Vault.Secrets = append(out.Vault.Secrets, rs)
	}

	out.DB.Hosts = mergeHosts(out.DB.Hosts, remote.DB.Hosts)
	out.DB.Snippets = mergeSnippets(out.DB.Snippets, remote.DB.Snippets)
	out.DB.Presets = mergePresets(out.DB.Presets, remote.DB.Presets)
	if out.DB.Settings == nil {
		out.DB.Settings = map[string]string{}
	}
	for k, v := range remote.DB.Settings {
		if _, ok := out.DB.Settings[k]; !ok {
			out.DB.Settings[k] = v
		}
	}
	return out
}

func mergeHosts(local, remote []records.Host) []records.Host {
	seen := map[string]bool{}
	for _, h := range local {
		seen[h.ID] = true
	}
	for _, h := range remote {
		if !seen[h.ID] {
			local = append(local, h)
		}
	}
	return local
}

func mergeSnippets(local, remote []records.Snippet) []records.Snippet {
	seen := map[string]bool{}
	for _, s := range local {
		seen[s.ID] = true
	}
	for _, s := range remote {
		if !seen[s.ID] {
			local = append(local, s)
		}
	}
	return local
}

func mergePresets(local, remote []records.Preset) []records.Preset {
	seen := map[string]bool{}
	for _, p := range local {
		seen[p.ID] = true
	}
	for _, p := range remote {
		if !seen[p.ID] {
			local = append(local, p)
		}
	}
	return local
}
