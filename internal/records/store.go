package records

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("records: not found")
	ErrTransaction = errors.New("records: import transaction failed")
)

// The relational store holding hosts, snippets, settings and
// remote-connection presets. The sync engine treats it as opaque: it only
// ever calls Export and Import, and Import must apply as a single
// transaction, both-or-neither.

type Host struct {
	ID       string `json:"id" bson:"id"`
	Label    string `json:"label" bson:"label"`
	Address  string `json:"address" bson:"address"`
	Port     int    `json:"port" bson:"port"`
	Username string `json:"username" bson:"username"`
}

type Snippet struct {
	ID     string `json:"id" bson:"id"`
	Name   string `json:"name" bson:"name"`
	Script string `json:"script" bson:"script"`
}

// Preset is a remote-connection preset (RDP/VNC launch parameters).
type Preset struct {
	ID       string            `json:"id" bson:"id"`
	HostID   string            `json:"hostId" bson:"hostId"`
	Protocol string            `json:"protocol" bson:"protocol"`
	Params   map[string]string `json:"params" bson:"params"`
}

type Export struct {
	Hosts    []Host            `json:"hosts"`
	Snippets []Snippet         `json:"snippets"`
	Settings map[string]string `json:"settings"`
	Presets  []Preset          `json:"presets"`
}

type Store interface {
	Export(ctx context.Context) (Export, error)
	Import(ctx context.Context, data Export) error
}
