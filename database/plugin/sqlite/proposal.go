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

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/database/models"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) Create(ctx context.Context, p *adapter.Proposal) error {
	row, err := models.NewProposal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("create proposal %s: %w", p.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return proposal.ErrDuplicateProposal
	}
	return nil
}

func (s *Store) Save(ctx context.Context, p *adapter.Proposal) error {
	row, err := models.NewProposal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("save proposal %s: %w", p.ID, result.Error)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*adapter.Proposal, error) {
	var row models.Proposal
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, proposal.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, result.Error)
	}
	return row.Decode()
}

func (s *Store) List(ctx context.Context, filter proposal.Filter) ([]*adapter.Proposal, error) {
	query := s.db.WithContext(ctx).Model(&models.Proposal{})
	if filter.Network != "" {
		query = query.Where("network = ?", strings.ToLower(filter.Network))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.AwaitingConfirmation {
		query = query.Where(
			"network_tx_id <> '' AND status = ?",
			string(adapter.StatusPending),
		)
	}
	var rows []models.Proposal
	if result := query.Order("created_at, id").Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("list proposals: %w", result.Error)
	}
	ret := make([]*adapter.Proposal, 0, len(rows))
	for i := range rows {
		p, err := rows[i].Decode()
		if err != nil {
			return nil, fmt.Errorf("decode proposal %s: %w", rows[i].ID, err)
		}
		ret = append(ret, p)
	}
	return ret, nil
}
