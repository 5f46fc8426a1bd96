package lending

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/rewards"
)

// View is the read surface handed to the risk engine.
type View interface {
	nativecommon.PauseView
	Params() (*Params, error)
	Pool(id string) (*Pool, error)
	Position(account common.Address, pool string) (*Position, error)
	Membership(account common.Address) (*Membership, error)
	Price(pool string) (*uint256.Int, error)
}

// journal buffers every read and write of one operation. Nothing reaches the
// store until commit, so a failed operation is discarded by dropping the
// journal.
type journal struct {
	store  Store
	oracle PriceOracle

	params      *Params
	paramsDirty bool

	pools       map[string]*Pool
	positions   map[positionKey]*Position
	memberships map[common.Address]*Membership
	markets     map[string]*rewards.Market
	snapshots   map[positionKey]*rewards.Snapshot
	accounts    map[common.Address]*rewards.Account

	dirtyPools       map[string]struct{}
	dirtyPositions   map[positionKey]struct{}
	dirtyMemberships map[common.Address]struct{}
	dirtyMarkets     map[string]struct{}
	dirtySnapshots   map[positionKey]struct{}
	dirtyAccounts    map[common.Address]struct{}

	interactions []func() error
	events       []events.Event
}

func newJournal(store Store, oracle PriceOracle) *journal {
	return &journal{
		store:            store,
		oracle:           oracle,
		pools:            make(map[string]*Pool),
		positions:        make(map[positionKey]*Position),
		memberships:      make(map[common.Address]*Membership),
		markets:          make(map[string]*rewards.Market),
		snapshots:        make(map[positionKey]*rewards.Snapshot),
		accounts:         make(map[common.Address]*rewards.Account),
		dirtyPools:       make(map[string]struct{}),
		dirtyPositions:   make(map[positionKey]struct{}),
		dirtyMemberships: make(map[common.Address]struct{}),
		dirtyMarkets:     make(map[string]struct{}),
		dirtySnapshots:   make(map[positionKey]struct{}),
		dirtyAccounts:    make(map[common.Address]struct{}),
	}
}

// loadParams returns nil when the engine has never been initialised.
func (j *journal) loadParams() (*Params, error) {
	if j.params != nil {
		return j.params, nil
	}
	params, err := j.store.LoadParams()
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	j.params = params
	return params, nil
}

func (j *journal) Params() (*Params, error) {
	params, err := j.loadParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, ErrNotInitialized
	}
	return params, nil
}

func (j *journal) putParams(p *Params) {
	j.params = p
	j.paramsDirty = true
}

// rawPool returns the pool record or nil when it does not exist.
func (j *journal) rawPool(id string) (*Pool, error) {
	if p, ok := j.pools[id]; ok {
		return p, nil
	}
	p, err := j.store.LoadPool(id)
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	if p != nil {
		j.pools[id] = p
	}
	return p, nil
}

// Pool returns a listed pool or ErrMarketNotListed.
func (j *journal) Pool(id string) (*Pool, error) {
	p, err := j.rawPool(id)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Listed {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, id)
	}
	return p, nil
}

func (j *journal) putPool(p *Pool) {
	j.pools[p.ID] = p
	j.dirtyPools[p.ID] = struct{}{}
}

func (j *journal) Position(account common.Address, pool string) (*Position, error) {
	key := positionKey{account, pool}
	if p, ok := j.positions[key]; ok {
		return p, nil
	}
	p, err := j.store.LoadPosition(account, pool)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if p == nil {
		p = &Position{Account: account, Pool: pool}
	}
	p.Shares = fixed.Copy(p.Shares)
	p.BorrowPrincipal = fixed.Copy(p.BorrowPrincipal)
	p.BorrowIndex = fixed.Copy(p.BorrowIndex)
	j.positions[key] = p
	return p, nil
}

func (j *journal) putPosition(p *Position) {
	key := positionKey{p.Account, p.Pool}
	j.positions[key] = p
	j.dirtyPositions[key] = struct{}{}
}

func (j *journal) Membership(account common.Address) (*Membership, error) {
	if m, ok := j.memberships[account]; ok {
		return m, nil
	}
	m, err := j.store.LoadMembership(account)
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	if m == nil {
		m = &Membership{Account: account}
	}
	j.memberships[account] = m
	return m, nil
}

func (j *journal) putMembership(m *Membership) {
	j.memberships[m.Account] = m
	j.dirtyMemberships[m.Account] = struct{}{}
}

// Price returns the oracle price of the pool underlying. A missing or zero
// price is reported as ErrPriceError.
func (j *journal) Price(pool string) (*uint256.Int, error) {
	if j.oracle == nil {
		return nil, fmt.Errorf("%w: no oracle configured", ErrPriceError)
	}
	price, ok := j.oracle.UnderlyingPrice(pool)
	if !ok || price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrPriceError, pool)
	}
	return fixed.Copy(price), nil
}

// IsPaused implements the pause view over global and per-pool flags.
func (j *journal) IsPaused(pool string, action nativecommon.Action) bool {
	if params, err := j.loadParams(); err == nil && params != nil {
		switch action {
		case nativecommon.ActionTransfer:
			if params.TransferPaused {
				return true
			}
		case nativecommon.ActionSeize:
			if params.SeizePaused {
				return true
			}
		}
	}
	p, err := j.rawPool(pool)
	if err != nil || p == nil {
		return false
	}
	switch action {
	case nativecommon.ActionMint:
		return p.MintPaused
	case nativecommon.ActionBorrow:
		return p.BorrowPaused
	case nativecommon.ActionTransfer:
		return p.TransferPaused
	case nativecommon.ActionSeize:
		return p.SeizePaused
	}
	return false
}

func (j *journal) RewardMarket(pool string) (*rewards.Market, error) {
	if m, ok := j.markets[pool]; ok {
		return m, nil
	}
	m, err := j.store.LoadRewardMarket(pool)
	if err != nil {
		return nil, fmt.Errorf("load reward market: %w", err)
	}
	if m == nil {
		m = &rewards.Market{Pool: pool}
	}
	j.markets[pool] = m
	return m, nil
}

func (j *journal) PutRewardMarket(m *rewards.Market) error {
	j.markets[m.Pool] = m
	j.dirtyMarkets[m.Pool] = struct{}{}
	return nil
}

func (j *journal) RewardSnapshot(account common.Address, pool string) (*rewards.Snapshot, error) {
	key := positionKey{account, pool}
	if s, ok := j.snapshots[key]; ok {
		return s, nil
	}
	s, err := j.store.LoadRewardSnapshot(account, pool)
	if err != nil {
		return nil, fmt.Errorf("load reward snapshot: %w", err)
	}
	if s == nil {
		s = &rewards.Snapshot{Account: account, Pool: pool}
	}
	j.snapshots[key] = s
	return s, nil
}

func (j *journal) PutRewardSnapshot(s *rewards.Snapshot) error {
	key := positionKey{s.Account, s.Pool}
	j.snapshots[key] = s
	j.dirtySnapshots[key] = struct{}{}
	return nil
}

func (j *journal) RewardAccount(account common.Address) (*rewards.Account, error) {
	if a, ok := j.accounts[account]; ok {
		return a, nil
	}
	a, err := j.store.LoadRewardAccount(account)
	if err != nil {
		return nil, fmt.Errorf("load reward account: %w", err)
	}
	if a == nil {
		a = &rewards.Account{Address: account}
	}
	j.accounts[account] = a
	return a, nil
}

func (j *journal) PutRewardAccount(a *rewards.Account) error {
	j.accounts[a.Address] = a
	j.dirtyAccounts[a.Address] = struct{}{}
	return nil
}

func (j *journal) emit(e events.Event) {
	j.events = append(j.events, e)
}

// interact queues a call to an external collaborator. Queued calls run after
// every check and state change of the operation has completed.
func (j *journal) interact(fn func() error) {
	j.interactions = append(j.interactions, fn)
}

func lessKey(a, b positionKey) bool {
	if c := bytes.Compare(a.account[:], b.account[:]); c != 0 {
		return c < 0
	}
	return a.pool < b.pool
}

func sortedAddresses[T any](m map[common.Address]T) []common.Address {
	out := make([]common.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, k int) bool { return bytes.Compare(out[i][:], out[k][:]) < 0 })
	return out
}

func sortedKeys[T any](m map[positionKey]T) []positionKey {
	out := make([]positionKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, k int) bool { return lessKey(out[i], out[k]) })
	return out
}

func sortedStrings[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// changes assembles the write set in a deterministic order.
func (j *journal) changes() *ChangeSet {
	cs := &ChangeSet{}
	if j.paramsDirty && j.params != nil {
		cs.Params = j.params.Clone()
	}
	for _, id := range sortedStrings(j.dirtyPools) {
		cs.Pools = append(cs.Pools, j.pools[id].Clone())
	}
	for _, key := range sortedKeys(j.dirtyPositions) {
		cs.Positions = append(cs.Positions, j.positions[key].Clone())
	}
	for _, account := range sortedAddresses(j.dirtyMemberships) {
		cs.Memberships = append(cs.Memberships, j.memberships[account].Clone())
	}
	for _, id := range sortedStrings(j.dirtyMarkets) {
		cs.RewardMarkets = append(cs.RewardMarkets, j.markets[id].Clone())
	}
	for _, key := range sortedKeys(j.dirtySnapshots) {
		cs.RewardSnapshots = append(cs.RewardSnapshots, j.snapshots[key].Clone())
	}
	for _, account := range sortedAddresses(j.dirtyAccounts) {
		cs.RewardAccounts = append(cs.RewardAccounts, j.accounts[account].Clone())
	}
	return cs
}
