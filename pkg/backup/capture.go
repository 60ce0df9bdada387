// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-e2ee.
//
// go-e2ee is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package backup

import (
	"sync"
	"time"
)

// CaptureTTL bounds how long a captured login password stays in memory.
// Long enough for the post-login auto-backup to run, short enough that the
// plaintext password never lingers.
const CaptureTTL = 5 * time.Second

// passwordCapture holds a login password for at most CaptureTTL, releasing
// it to at most one consumer.
type passwordCapture struct {
	mu       sync.Mutex
	password string
	expiry   *time.Timer
}

// capture stores the password and arms self-expiry, replacing any previous
// capture.
func (c *passwordCapture) capture(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.password = password
	c.expiry = time.AfterFunc(CaptureTTL, c.clear)
}

// consume returns the captured password and clears it. The second return is
// false when nothing is captured or the capture expired.
func (c *passwordCapture) consume() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.password == "" {
		return "", false
	}
	password := c.password
	c.password = ""
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	return password, true
}

func (c *passwordCapture) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = ""
	c.expiry = nil
}
