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

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	"github.com/getsops/sops/v3/version"
)

const (
	EnvGCPKMSResourceID = "MULTISIG_GCP_KMS_RESOURCE_ID"
	EnvAWSKMSKeyARNs    = "MULTISIG_AWS_KMS_KEY_ARNS"
	EnvAWSKMSProfile    = "MULTISIG_AWS_KMS_PROFILE"
)

var (
	ErrAlreadyEncrypted = errors.New("backup already sops encrypted")
	ErrNoMasterKeys     = errors.New("sops requires at least one master key")
)

// KMSKeys name the master keys a sops envelope is encrypted to
type KMSKeys struct {
	GCPResourceIDs string
	AWSKeyARNs     string
	AWSProfile     string
}

// KMSKeysFromEnv reads master key settings from the environment
func KMSKeysFromEnv() KMSKeys {
	return KMSKeys{
		GCPResourceIDs: os.Getenv(EnvGCPKMSResourceID),
		AWSKeyARNs:     os.Getenv(EnvAWSKMSKeyARNs),
		AWSProfile:     os.Getenv(EnvAWSKMSProfile),
	}
}

func (k KMSKeys) keyGroups() ([]sopsapi.KeyGroup, error) {
	var groups []sopsapi.KeyGroup
	if k.GCPResourceIDs != "" {
		var keys []skeys.MasterKey
		for _, mk := range gcpkms.MasterKeysFromResourceIDString(k.GCPResourceIDs) {
			keys = append(keys, mk)
		}
		if len(keys) > 0 {
			groups = append(groups, keys)
		}
	}
	if k.AWSKeyARNs != "" {
		var keys []skeys.MasterKey
		for _, mk := range awskms.MasterKeysFromArnString(k.AWSKeyARNs, nil, k.AWSProfile) {
			keys = append(keys, mk)
		}
		if len(keys) > 0 {
			groups = append(groups, keys)
		}
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf(
			"%w: set %s and/or %s",
			ErrNoMasterKeys,
			EnvGCPKMSResourceID,
			EnvAWSKMSKeyARNs,
		)
	}
	return groups, nil
}

// SopsSink envelope-encrypts every backup before handing it to the inner
// sink
type SopsSink struct {
	inner Sink
	keys  KMSKeys
}

func NewSopsSink(inner Sink, keys KMSKeys) (*SopsSink, error) {
	if _, err := keys.keyGroups(); err != nil {
		return nil, err
	}
	return &SopsSink{inner: inner, keys: keys}, nil
}

func (s *SopsSink) Put(ctx context.Context, name string, data []byte) error {
	encrypted, err := SopsEncrypt(data, s.keys)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, name, encrypted)
}

func (s *SopsSink) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return SopsDecrypt(data)
}

func (s *SopsSink) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *SopsSink) Close() error {
	return s.inner.Close()
}

// SopsDecrypt opens a sops binary envelope
func SopsDecrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}
	return ret, nil
}

// SopsEncrypt wraps data in a sops binary envelope encrypted to keys
func SopsEncrypt(data []byte, keys KMSKeys) ([]byte, error) {
	storeConfig := &config.JSONBinaryStoreConfig{}
	store := jsonstore.NewBinaryStore(storeConfig)
	branches, err := store.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("sops load: %w", err)
	}
	for _, branch := range branches {
		for _, item := range branch {
			if item.Key == "sops" {
				return nil, ErrAlreadyEncrypted
			}
		}
	}
	groups, err := keys.keyGroups()
	if err != nil {
		return nil, err
	}
	tree := sopsapi.Tree{
		Branches: branches,
		Metadata: sopsapi.Metadata{
			KeyGroups: groups,
			Version:   version.Version,
		},
	}
	dataKey, errs := tree.GenerateDataKey()
	if len(errs) > 0 {
		return nil, fmt.Errorf("sops data key: %w", errors.Join(errs...))
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("sops encrypt: %w", err)
	}
	encrypted, err := store.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("sops emit: %w", err)
	}
	return encrypted, nil
}
