// Copyright 2025 Certen Protocol
//
// Rep-set loading from either a channel-manage-data JSON file or a
// REST getReps response (the YAML channel file is read by
// config.LoadReps instead). Grounded on
// testcase/unittest/peermanager/test_peer_loader.go's two field
// spellings: a file entry uses {id, peer_target, order}, a REST entry
// uses {address, p2pEndpoint}. Both normalize to the same Rep.

package peer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/certen/independant-validator/pkg/types"
)

// Rep is one representative entry in canonical internal form: id and
// p2pEndpoint, per spec §6.
type Rep struct {
	ID          types.Address20
	P2PEndpoint string
	Order       int
}

type rawEntry struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	PeerTarget  string `json:"peer_target"`
	P2PEndpoint string `json:"p2pEndpoint"`
	Order       int    `json:"order"`
}

func (e rawEntry) normalize() (Rep, error) {
	idStr := e.ID
	if idStr == "" {
		idStr = e.Address
	}
	if idStr == "" {
		return Rep{}, fmt.Errorf("peer: entry missing id/address")
	}
	addr, err := types.AddressFromString(idStr)
	if err != nil {
		return Rep{}, fmt.Errorf("peer: invalid id/address %q: %w", idStr, err)
	}

	endpoint := e.PeerTarget
	if endpoint == "" {
		endpoint = e.P2PEndpoint
	}
	if endpoint == "" {
		return Rep{}, fmt.Errorf("peer: entry %q missing peer_target/p2pEndpoint", idStr)
	}

	return Rep{ID: addr, P2PEndpoint: endpoint, Order: e.Order}, nil
}

type channelManageData map[string]struct {
	Peers []rawEntry `json:"peers"`
}

// LoadChannelFile parses a channel-manage-data JSON file (keyed by
// channel name, each holding a "peers" list) and returns the ordered rep
// set for channelName.
func LoadChannelFile(data []byte, channelName string) ([]Rep, error) {
	var doc channelManageData
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("peer: parse channel manage data: %w", err)
	}

	channel, ok := doc[channelName]
	if !ok {
		return nil, fmt.Errorf("peer: channel %q not found", channelName)
	}

	reps := make([]Rep, 0, len(channel.Peers))
	for _, e := range channel.Peers {
		r, err := e.normalize()
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}

	sort.SliceStable(reps, func(i, j int) bool { return reps[i].Order < reps[j].Order })
	return reps, nil
}

// LoadRESTResponse parses a flat getReps-style REST response
// ([]{address, p2pEndpoint}) and returns the rep set in response order.
func LoadRESTResponse(data []byte) ([]Rep, error) {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("peer: parse REST response: %w", err)
	}

	reps := make([]Rep, 0, len(entries))
	for _, e := range entries {
		r, err := e.normalize()
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	return reps, nil
}

// Addresses extracts the ordered Address20 list from a rep set, the
// form the votes aggregators consume.
func Addresses(reps []Rep) []types.Address20 {
	out := make([]types.Address20, len(reps))
	for i, r := range reps {
		out[i] = r.ID
	}
	return out
}
