package vault

import "time"

// Credential is the per-host credential record. UpdatedAt is an ISO-8601
// timestamp set on every write.
type Credential struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	UpdatedAt string `json:"updatedAt"`
}

// Secret is a free-form named credential: ssh-key, token, passphrase, etc.
type Secret struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updatedAt"`
}

// Document is the logical plaintext schema of the vault. It only exists in
// memory while unlocked; on disk it lives inside one Envelope.
type Document struct {
	Hosts   map[string]Credential `json:"hosts"`
	Secrets []Secret              `json:"secrets"`
}

func NewDocument() Document {
	return Document{Hosts: map[string]Credential{}}
}

func (d Document) Clone() Document {
	out := Document{Hosts: make(map[string]Credential, len(d.Hosts))}
	for id, c := range d.Hosts {
		out.Hosts[id] = c
	}
	if d.Secrets != nil {
		out.Secrets = append([]Secret(nil), d.Secrets...)
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
