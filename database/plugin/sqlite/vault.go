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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NEILBATCHELOR/wallet-sub001/database/models"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) LoadHeader(ctx context.Context) (*vault.Header, error) {
	var row models.VaultHeader
	result := s.db.WithContext(ctx).Where("id = ?", models.VaultHeaderID).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, vault.ErrNoHeader
		}
		return nil, fmt.Errorf("load vault header: %w", result.Error)
	}
	var ret vault.Header
	if err := json.Unmarshal(row.Body, &ret); err != nil {
		return nil, fmt.Errorf("decode vault header: %w", err)
	}
	return &ret, nil
}

func (s *Store) SaveHeader(ctx context.Context, header *vault.Header) error {
	body, err := json.Marshal(header)
	if err != nil {
		return err
	}
	row := &models.VaultHeader{ID: models.VaultHeaderID, Body: body}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("save vault header: %w", result.Error)
	}
	return nil
}

func (s *Store) PutKey(ctx context.Context, entry *vault.KeyEntry, sealed vault.Sealed) error {
	row, err := models.NewVaultKey(entry, sealed)
	if err != nil {
		return fmt.Errorf("encode key %s: %w", entry.ID, err)
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("save key %s: %w", entry.ID, result.Error)
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, id string) (*vault.KeyEntry, vault.Sealed, error) {
	var row models.VaultKey
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, vault.Sealed{}, vault.ErrKeyNotFound
		}
		return nil, vault.Sealed{}, fmt.Errorf("get key %s: %w", id, result.Error)
	}
	return row.Decode()
}

func (s *Store) ListKeys(ctx context.Context) ([]*vault.KeyEntry, error) {
	var rows []models.VaultKey
	if result := s.db.WithContext(ctx).Order("created_at, id").Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("list keys: %w", result.Error)
	}
	ret := make([]*vault.KeyEntry, 0, len(rows))
	for i := range rows {
		entry, _, err := rows[i].Decode()
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", rows[i].ID, err)
		}
		ret = append(ret, entry)
	}
	return ret, nil
}

func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.VaultKey{})
	if result.Error != nil {
		return fmt.Errorf("delete key %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return vault.ErrKeyNotFound
	}
	return nil
}
