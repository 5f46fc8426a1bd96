package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"moneymarket/native/lending"
	"moneymarket/native/lending/rewards"
	"moneymarket/storage"
)

var (
	lendingParamsKey            = []byte("lending/params")
	lendingPoolPrefix           = []byte("lending/pool/")
	lendingPositionPrefix       = []byte("lending/position/")
	lendingMembershipPrefix     = []byte("lending/membership/")
	lendingRewardMarketPrefix   = []byte("lending/reward/market/")
	lendingRewardSnapshotPrefix = []byte("lending/reward/snapshot/")
	lendingRewardAccountPrefix  = []byte("lending/reward/account/")
)

func hashedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
		// Separator keeps ("ab", "c") and ("a", "bc") apart.
		buf = append(buf, 0)
	}
	return ethcrypto.Keccak256(buf)
}

func lendingPoolKey(id string) []byte {
	return hashedKey(lendingPoolPrefix, []byte(id))
}

func lendingPositionKey(account common.Address, pool string) []byte {
	return hashedKey(lendingPositionPrefix, account.Bytes(), []byte(pool))
}

func lendingMembershipKey(account common.Address) []byte {
	return hashedKey(lendingMembershipPrefix, account.Bytes())
}

func lendingRewardMarketKey(pool string) []byte {
	return hashedKey(lendingRewardMarketPrefix, []byte(pool))
}

func lendingRewardSnapshotKey(account common.Address, pool string) []byte {
	return hashedKey(lendingRewardSnapshotPrefix, account.Bytes(), []byte(pool))
}

func lendingRewardAccountKey(account common.Address) []byte {
	return hashedKey(lendingRewardAccountPrefix, account.Bytes())
}

// LendingStore persists the lending engine state as RLP records in a
// key-value database. Each change set is written with a single batch.
type LendingStore struct {
	db storage.Database
}

// NewLendingStore wraps db.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

// load decodes the record at key into out. It reports false when the key is
// absent.
func (s *LendingStore) load(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("state: lending store unavailable")
	}
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode lending record: %w", err)
	}
	return true, nil
}

func (s *LendingStore) LoadParams() (*lending.Params, error) {
	params := new(lending.Params)
	ok, err := s.load(lendingParamsKey, params)
	if err != nil || !ok {
		return nil, err
	}
	return params.Clone(), nil
}

func (s *LendingStore) LoadPool(id string) (*lending.Pool, error) {
	pool := new(lending.Pool)
	ok, err := s.load(lendingPoolKey(id), pool)
	if err != nil || !ok {
		return nil, err
	}
	return pool.Clone(), nil
}

func (s *LendingStore) LoadPosition(account common.Address, pool string) (*lending.Position, error) {
	position := new(lending.Position)
	ok, err := s.load(lendingPositionKey(account, pool), position)
	if err != nil || !ok {
		return nil, err
	}
	return position.Clone(), nil
}

func (s *LendingStore) LoadMembership(account common.Address) (*lending.Membership, error) {
	membership := new(lending.Membership)
	ok, err := s.load(lendingMembershipKey(account), membership)
	if err != nil || !ok {
		return nil, err
	}
	return membership.Clone(), nil
}

func (s *LendingStore) LoadRewardMarket(pool string) (*rewards.Market, error) {
	market := new(rewards.Market)
	ok, err := s.load(lendingRewardMarketKey(pool), market)
	if err != nil || !ok {
		return nil, err
	}
	return market.Clone(), nil
}

func (s *LendingStore) LoadRewardSnapshot(account common.Address, pool string) (*rewards.Snapshot, error) {
	snapshot := new(rewards.Snapshot)
	ok, err := s.load(lendingRewardSnapshotKey(account, pool), snapshot)
	if err != nil || !ok {
		return nil, err
	}
	return snapshot.Clone(), nil
}

func (s *LendingStore) LoadRewardAccount(account common.Address) (*rewards.Account, error) {
	acct := new(rewards.Account)
	ok, err := s.load(lendingRewardAccountKey(account), acct)
	if err != nil || !ok {
		return nil, err
	}
	return acct.Clone(), nil
}

type pendingWrite struct {
	key    []byte
	record interface{}
}

// Commit encodes every record of cs and writes them in one batch. Nothing is
// written when any record fails to encode.
func (s *LendingStore) Commit(cs *lending.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("state: lending store unavailable")
	}
	var writes []pendingWrite
	if cs.Params != nil {
		writes = append(writes, pendingWrite{lendingParamsKey, cs.Params.Clone()})
	}
	for _, p := range cs.Pools {
		writes = append(writes, pendingWrite{lendingPoolKey(p.ID), p.Clone()})
	}
	for _, p := range cs.Positions {
		writes = append(writes, pendingWrite{lendingPositionKey(p.Account, p.Pool), p.Clone()})
	}
	for _, m := range cs.Memberships {
		writes = append(writes, pendingWrite{lendingMembershipKey(m.Account), m.Clone()})
	}
	for _, m := range cs.RewardMarkets {
		writes = append(writes, pendingWrite{lendingRewardMarketKey(m.Pool), m.Clone()})
	}
	for _, snap := range cs.RewardSnapshots {
		writes = append(writes, pendingWrite{lendingRewardSnapshotKey(snap.Account, snap.Pool), snap.Clone()})
	}
	for _, a := range cs.RewardAccounts {
		writes = append(writes, pendingWrite{lendingRewardAccountKey(a.Address), a.Clone()})
	}

	batch := s.db.NewBatch()
	for _, w := range writes {
		encoded, err := rlp.EncodeToBytes(w.record)
		if err != nil {
			return fmt.Errorf("state: encode lending record: %w", err)
		}
		batch.Put(w.key, encoded)
	}
	return batch.Write()
}
