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

package event

const (
	ProposalCreatedEventType     Type = "proposal.created"
	ProposalSignedEventType      Type = "proposal.signed"
	ProposalBroadcastEventType   Type = "proposal.broadcast"
	ProposalStatusEventType      Type = "proposal.status"
	VaultStateEventType          Type = "vault.state"
	VaultAuditEventType          Type = "vault.audit"
	VaultSessionExpiredEventType Type = "vault.session_expired"
)

// ProposalEvent describes a change to a transaction proposal
type ProposalEvent struct {
	ProposalID  string
	Network     string
	Status      string
	Signer      string
	Signatures  int
	NetworkTxID string
}

// VaultStateEvent reports a vault state transition
type VaultStateEvent struct {
	State  string
	Reason string
}

// VaultAuditEvent mirrors an audit log entry without secret material
type VaultAuditEvent struct {
	EntryID string
	Action  string
	KeyID   string
	Success bool
}
