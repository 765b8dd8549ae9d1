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

package proposal

import (
	"context"
	"errors"
	"time"
)

var ErrPollingRunning = errors.New("polling already running")

const DefaultPollInterval = 15 * time.Second

// StartPolling refreshes the status of every broadcast proposal that is
// still awaiting confirmation, once per interval, until Stop is called or
// ctx is done
func (c *Coordinator) StartPolling(ctx context.Context, interval time.Duration) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		return ErrPollingRunning
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollWg.Add(1)
	go c.pollLoop(pollCtx, interval)
	c.logger.Debug("started polling", "interval", interval.String())
	return nil
}

// Stop halts background polling and waits for the loop to exit
func (c *Coordinator) Stop() {
	c.pollMu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.pollMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.pollWg.Wait()
}

func (c *Coordinator) pollLoop(ctx context.Context, interval time.Duration) {
	defer c.pollWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PollAll(ctx)
		}
	}
}

// PollAll polls every proposal awaiting confirmation and returns how many
// changed status
func (c *Coordinator) PollAll(ctx context.Context) int {
	pending, err := c.store.List(ctx, Filter{AwaitingConfirmation: true})
	if err != nil {
		c.logger.Error("failed to list proposals", "error", err)
		return 0
	}
	changed := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return changed
		}
		updated, err := c.Poll(ctx, p.ID)
		if err != nil {
			c.logger.Warn("poll failed", "proposal", p.ID, "error", err)
			continue
		}
		if updated.Status != p.Status {
			changed++
		}
	}
	return changed
}
