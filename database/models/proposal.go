// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
)

// Proposal keeps the filterable fields in columns and the full proposal
// as JSON
type Proposal struct {
	ID          string    `gorm:"primaryKey;size:128"`
	Network     string    `gorm:"index;not null;size:64"`
	Status      string    `gorm:"index;not null;size:16"`
	NetworkTxID string    `gorm:"index;size:256"`
	Body        []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

func (Proposal) TableName() string {
	return "proposal"
}

func NewProposal(p *adapter.Proposal) (*Proposal, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Proposal{
		ID:          p.ID,
		Network:     strings.ToLower(p.Network),
		Status:      string(p.Status),
		NetworkTxID: p.NetworkTxID,
		Body:        body,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (p *Proposal) Decode() (*adapter.Proposal, error) {
	var ret adapter.Proposal
	if err := json.Unmarshal(p.Body, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
