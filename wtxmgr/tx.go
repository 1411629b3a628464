package wtxmgr

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// TxRecord is a transaction touching one of the wallet addresses, as seen
// from that address.
type TxRecord struct {
	// TxID is the hex encoded transaction hash.
	TxID string

	// Address is the wallet address the record belongs to.
	Address string

	// Amount is the net change of the address balance in ECA.  It is
	// negative when the transaction spends from the address.
	Amount float64

	// Confirmations is the depth of the block holding the transaction, or
	// zero while unmined.
	Confirmations int64

	// Received is the block time, or the time the record was first seen
	// while unmined.
	Received time.Time
}

// recordKey uniquely identifies a record.
type recordKey struct {
	txID    string
	address string
}

// Store keeps the transaction records of the wallet addresses in insertion
// order.  Records are kept in memory only and are rebuilt from the balance
// service on demand.
type Store struct {
	mtx     sync.RWMutex
	clock   clock.Clock
	records []TxRecord
	index   map[recordKey]int
}

// NewStore returns an empty Store.  Unmined records are stamped with clk.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Store{
		clock: clk,
		index: make(map[recordKey]int),
	}
}

// InsertTxs adds new records and refreshes the confirmations of known ones.
// The batch is validated before anything is written.  It returns the number
// of records that were not known before.
func (s *Store) InsertTxs(recs ...TxRecord) (int, error) {
	seen := make(map[recordKey]struct{}, len(recs))
	for _, rec := range recs {
		if rec.TxID == "" || rec.Address == "" {
			str := "transaction record requires a txid and address"
			return 0, storeError(ErrInput, str, nil)
		}
		key := recordKey{txID: rec.TxID, address: rec.Address}
		if _, ok := seen[key]; ok {
			str := "transaction " + rec.TxID + " listed twice for " +
				rec.Address
			return 0, storeError(ErrDuplicate, str, nil)
		}
		seen[key] = struct{}{}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := s.clock.Now()
	added := 0
	for _, rec := range recs {
		key := recordKey{txID: rec.TxID, address: rec.Address}
		if i, ok := s.index[key]; ok {
			existing := &s.records[i]
			existing.Confirmations = rec.Confirmations
			existing.Amount = rec.Amount
			if !rec.Received.IsZero() {
				existing.Received = rec.Received
			}
			continue
		}

		if rec.Received.IsZero() {
			rec.Received = now
		}
		s.index[key] = len(s.records)
		s.records = append(s.records, rec)
		added++
	}

	if added > 0 {
		log.Debugf("Inserted %d new transaction record(s)", added)
	}

	return added, nil
}

// Records returns a copy of every record in insertion order.
func (s *Store) Records() []TxRecord {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	recs := make([]TxRecord, len(s.records))
	copy(recs, s.records)
	return recs
}

// RecordsForAddress returns the records of one address in insertion order.
func (s *Store) RecordsForAddress(address string) []TxRecord {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var recs []TxRecord
	for _, rec := range s.records {
		if rec.Address == address {
			recs = append(recs, rec)
		}
	}
	return recs
}

// Unconfirmed returns the records that are not mined yet.
func (s *Store) Unconfirmed() []TxRecord {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var recs []TxRecord
	for _, rec := range s.records {
		if rec.Confirmations == 0 {
			recs = append(recs, rec)
		}
	}
	return recs
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return len(s.records)
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.records = nil
	s.index = make(map[recordKey]int)
}
