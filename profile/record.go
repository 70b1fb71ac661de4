// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/lib/failure"
)

// Record is a normalized profile. It is a value: accessors return
// copies, so a Record never changes after Normalize builds it.
type Record struct {
	identifier string
	friendly   uint32
	teaching   uint32
	leader     uint32
	medals     []int
	equipped   int
	hasEquip   bool
	level      int
	hasLevel   bool
	fetchedAt  time.Time
}

// Normalize builds a Record from a coordinator response. The response
// must carry an account id.
//
// Missing counters are zero. Medals keep the first occurrence of each
// numeric entry in service order. The equipped medal is the first
// entry of the list, absent when that entry is not a medal id.
func Normalize(identifier string, response *coordinator.ProfileResponse, fetchedAt time.Time) (Record, error) {
	if response == nil || response.AccountID == nil {
		return Record{}, failure.Internal("profile response for %s has no account id", identifier)
	}

	record := Record{identifier: identifier, fetchedAt: fetchedAt}
	if commendation := response.Commendation; commendation != nil {
		record.friendly = valueOrZero(commendation.Friendly)
		record.teaching = valueOrZero(commendation.Teaching)
		record.leader = valueOrZero(commendation.Leader)
	}
	if response.Medals != nil {
		items := response.Medals.DisplayItems
		if len(items) > 0 {
			if medal, ok := medalID(items[0]); ok {
				record.equipped, record.hasEquip = medal, true
			}
		}
		for _, item := range items {
			medal, ok := medalID(item)
			if !ok {
				continue
			}
			if !slices.Contains(record.medals, medal) {
				record.medals = append(record.medals, medal)
			}
		}
	}
	if response.PlayerLevel != nil {
		record.level = int(*response.PlayerLevel)
		record.hasLevel = true
	}
	return record, nil
}

func valueOrZero(value *uint32) uint32 {
	if value == nil {
		return 0
	}
	return *value
}

// medalID accepts the integer forms CBOR and JSON decoders produce.
func medalID(item any) (int, bool) {
	switch value := item.(type) {
	case int:
		return value, value >= 0
	case int32:
		return int(value), value >= 0
	case int64:
		return int(value), value >= 0 && value <= math.MaxInt32
	case uint32:
		return int(value), true
	case uint64:
		return int(value), value <= math.MaxInt32
	case float64:
		if value < 0 || value > math.MaxInt32 || value != math.Trunc(value) {
			return 0, false
		}
		return int(value), true
	default:
		return 0, false
	}
}

// Identifier returns the 17-digit profile identifier.
func (r Record) Identifier() string { return r.identifier }

// Commendations returns the friendly, teaching, and leader counters.
func (r Record) Commendations() (friendly, teaching, leader uint32) {
	return r.friendly, r.teaching, r.leader
}

// Medals returns the unique medal ids in service order.
func (r Record) Medals() []int { return slices.Clone(r.medals) }

// EquippedMedal returns the equipped medal, if any.
func (r Record) EquippedMedal() (int, bool) { return r.equipped, r.hasEquip }

// Level returns the player level, if reported.
func (r Record) Level() (int, bool) { return r.level, r.hasLevel }

// FetchedAt returns when the response was received.
func (r Record) FetchedAt() time.Time { return r.fetchedAt }

type recordJSON struct {
	Identifier    string        `json:"identifier"`
	Commendations commendations `json:"commendations"`
	Medals        []int         `json:"medals"`
	EquippedMedal *int          `json:"equipped_medal"`
	Level         *int          `json:"level"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

type commendations struct {
	Friendly uint32 `json:"friendly"`
	Teaching uint32 `json:"teaching"`
	Leader   uint32 `json:"leader"`
}

// MarshalJSON encodes the record for the HTTP surface. Absent optional
// fields are null and medals is never null.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Identifier:    r.identifier,
		Commendations: commendations{Friendly: r.friendly, Teaching: r.teaching, Leader: r.leader},
		Medals:        r.Medals(),
		FetchedAt:     r.fetchedAt,
	}
	if out.Medals == nil {
		out.Medals = []int{}
	}
	if r.hasEquip {
		equipped := r.equipped
		out.EquippedMedal = &equipped
	}
	if r.hasLevel {
		level := r.level
		out.Level = &level
	}
	return json.Marshal(out)
}
