package lending

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/native/lending/rewards"
)

// Store is the persistence surface of the engine. Loaders return nil without
// an error when a record does not exist. Commit must apply the whole change
// set or nothing.
type Store interface {
	LoadParams() (*Params, error)
	LoadPool(id string) (*Pool, error)
	LoadPosition(account common.Address, pool string) (*Position, error)
	LoadMembership(account common.Address) (*Membership, error)
	LoadRewardMarket(pool string) (*rewards.Market, error)
	LoadRewardSnapshot(account common.Address, pool string) (*rewards.Snapshot, error)
	LoadRewardAccount(account common.Address) (*rewards.Account, error)
	Commit(cs *ChangeSet) error
}

// ChangeSet is the write set of one operation.
type ChangeSet struct {
	Params          *Params
	Pools           []*Pool
	Positions       []*Position
	Memberships     []*Membership
	RewardMarkets   []*rewards.Market
	RewardSnapshots []*rewards.Snapshot
	RewardAccounts  []*rewards.Account
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (cs.Params == nil && len(cs.Pools) == 0 && len(cs.Positions) == 0 &&
		len(cs.Memberships) == 0 && len(cs.RewardMarkets) == 0 &&
		len(cs.RewardSnapshots) == 0 && len(cs.RewardAccounts) == 0)
}

type positionKey struct {
	account common.Address
	pool    string
}

// MemoryStore keeps engine state in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	params      *Params
	pools       map[string]*Pool
	positions   map[positionKey]*Position
	memberships map[common.Address]*Membership
	markets     map[string]*rewards.Market
	snapshots   map[positionKey]*rewards.Snapshot
	accounts    map[common.Address]*rewards.Account
	commits     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:       make(map[string]*Pool),
		positions:   make(map[positionKey]*Position),
		memberships: make(map[common.Address]*Membership),
		markets:     make(map[string]*rewards.Market),
		snapshots:   make(map[positionKey]*rewards.Snapshot),
		accounts:    make(map[common.Address]*rewards.Account),
	}
}

func (s *MemoryStore) LoadParams() (*Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone(), nil
}

func (s *MemoryStore) LoadPool(id string) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[id].Clone(), nil
}

func (s *MemoryStore) LoadPosition(account common.Address, pool string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[positionKey{account, pool}].Clone(), nil
}

func (s *MemoryStore) LoadMembership(account common.Address) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberships[account].Clone(), nil
}

func (s *MemoryStore) LoadRewardMarket(pool string) (*rewards.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets[pool].Clone(), nil
}

func (s *MemoryStore) LoadRewardSnapshot(account common.Address, pool string) (*rewards.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[positionKey{account, pool}].Clone(), nil
}

func (s *MemoryStore) LoadRewardAccount(account common.Address) (*rewards.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[account].Clone(), nil
}

func (s *MemoryStore) Commit(cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs.Params != nil {
		s.params = cs.Params.Clone()
	}
	for _, p := range cs.Pools {
		s.pools[p.ID] = p.Clone()
	}
	for _, p := range cs.Positions {
		s.positions[positionKey{p.Account, p.Pool}] = p.Clone()
	}
	for _, m := range cs.Memberships {
		s.memberships[m.Account] = m.Clone()
	}
	for _, m := range cs.RewardMarkets {
		s.markets[m.Pool] = m.Clone()
	}
	for _, snap := range cs.RewardSnapshots {
		s.snapshots[positionKey{snap.Account, snap.Pool}] = snap.Clone()
	}
	for _, a := range cs.RewardAccounts {
		s.accounts[a.Address] = a.Clone()
	}
	s.commits++
	return nil
}

// Commits returns how many non-empty change sets have been applied.
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}
