// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package mtp

import (
	"cmp"
	"slices"

	"github.com/edgelesssys/mtproto/tl"
)

// The salt store keeps future salts sorted by descending valid_since, so the
// last element is the salt currently in effect.

// resetSalts replaces the store with a single salt that is valid
// indefinitely, as dictated by bad_server_salt and new_session_created.
func (e *Encrypted) resetSalts(salt uint64) {
	e.salts = []tl.FutureSalt{{ValidSince: 0, ValidUntil: 0x7FFFFFFF, Salt: salt}}
	saltResets.Inc()
}

// storeSalts replaces the store with a server-provided list and anchors the
// server clock for later window checks.
func (e *Encrypted) storeSalts(salts tl.FutureSalts) {
	e.startSaltTime = &saltTimeAnchor{
		serverSecs: int64(salts.Now),
		localSecs:  e.clock.Now().Unix(),
	}
	e.salts = salts.Salts
	slices.SortFunc(e.salts, func(a, b tl.FutureSalt) int {
		return cmp.Compare(b.ValidSince, a.ValidSince)
	})
}

// rotateSalts drops the stalest salt once the next one has been valid for
// saltUseDelay seconds, and stages a get_future_salts request when the store
// runs down to its last entry.
func (e *Encrypted) rotateSalts() {
	if e.startSaltTime == nil || len(e.salts) < 2 {
		return
	}
	next := e.salts[len(e.salts)-2]
	now := e.startSaltTime.serverSecs + (e.startSaltTime.localSecs - e.clock.Now().Unix())
	if now >= int64(next.ValidSince)+saltUseDelay {
		e.salts = e.salts[:len(e.salts)-1]
		if len(e.salts) == 1 {
			e.serializeMsg(tl.GetFutureSalts(numFutureSalts), true)
		}
	}
}
