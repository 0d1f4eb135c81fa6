/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// indexTableEntry records which peer and which handshake/keypair slot a
// locally-chosen 32-bit session index refers to. The wire format addresses
// every transport/handshake message by this index (the "receiver" field),
// so lookups on the hot path must be O(1).
type indexTableEntry struct {
	peer      *Peer
	handshake *Handshake
	keypair   *Keypair
}

// IndexTable is the concurrent map from a session/handshake index to its
// owning peer. Indices are chosen at random and retried on collision.
type IndexTable struct {
	sync.RWMutex
	table map[uint32]indexTableEntry
}

func (table *IndexTable) Init() {
	table.Lock()
	defer table.Unlock()
	table.table = make(map[uint32]indexTableEntry)
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// NewIndexForHandshake allocates a fresh index bound to handshake, retrying
// on collision with an already-live index.
func (table *IndexTable) NewIndexForHandshake(peer *Peer, handshake *Handshake) (uint32, error) {
	for {
		index, err := randUint32()
		if err != nil {
			return 0, err
		}

		table.Lock()
		_, taken := table.table[index]
		if taken {
			table.Unlock()
			continue
		}
		table.table[index] = indexTableEntry{
			peer:      peer,
			handshake: handshake,
		}
		table.Unlock()
		return index, nil
	}
}

// SwapIndexForKeypair rebinds index, previously bound to a handshake, to the
// session keypair the handshake just produced.
func (table *IndexTable) SwapIndexForKeypair(index uint32, keypair *Keypair) {
	table.Lock()
	defer table.Unlock()
	entry, ok := table.table[index]
	if !ok {
		return
	}
	table.table[index] = indexTableEntry{
		peer:    entry.peer,
		keypair: keypair,
	}
}

func (table *IndexTable) Delete(index uint32) {
	table.Lock()
	defer table.Unlock()
	delete(table.table, index)
}

// Lookup returns the entry bound to index. Its peer, handshake, and/or
// keypair fields may be nil depending on what the index currently refers to.
func (table *IndexTable) Lookup(index uint32) indexTableEntry {
	table.RLock()
	defer table.RUnlock()
	return table.table[index]
}
