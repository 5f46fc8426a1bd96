package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/rewards"
)

var (
	bucketIdempotency = []byte("idempotency")
	bucketPrices      = []byte("prices")
	bucketTreasury    = []byte("treasury")

	treasuryBalanceKey = []byte("balance")
)

// IdempotencyRecord stores the response returned for an idempotency key.
type IdempotencyRecord struct {
	Caller     string    `json:"caller"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Bolt persists the daemon's side state: cached idempotent responses, posted
// prices and the reward treasury balance.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt initialises (and migrates) the bolt file at path.
func OpenBolt(path string, options *bolt.Options) (*Bolt, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketIdempotency, bucketPrices, bucketTreasury} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func idempotencyKey(caller common.Address, key string) []byte {
	return []byte(caller.Hex() + "/" + key)
}

// GetIdempotency returns the cached response for caller's key when it has not
// expired. Expired entries are removed.
func (s *Bolt) GetIdempotency(caller common.Address, key string, now time.Time) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		id := idempotencyKey(caller, key)
		raw := bucket.Get(id)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete(id)
		}
		found = true
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// PutIdempotency stores the response envelope for caller's key.
func (s *Bolt) PutIdempotency(caller common.Address, key string, record IdempotencyRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put(idempotencyKey(caller, key), payload)
	})
}

// SavePrice records a posted price; a zero price deletes the quote.
func (s *Bolt) SavePrice(pool string, price *uint256.Int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPrices)
		if price == nil || price.IsZero() {
			return bucket.Delete([]byte(pool))
		}
		return bucket.Put([]byte(pool), []byte(price.Dec()))
	})
}

// LoadPrices installs every stored price into oracle.
func (s *Bolt) LoadPrices(oracle *lending.SimplePriceOracle) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrices).ForEach(func(k, v []byte) error {
			price, err := uint256.FromDecimal(string(v))
			if err != nil {
				return fmt.Errorf("price %s: %w", k, err)
			}
			oracle.SetPrice(string(k), price)
			count++
			return nil
		})
	})
	return count, err
}

// Treasury returns the reward treasury backed by this store.
func (s *Bolt) Treasury() *Treasury {
	return &Treasury{store: s}
}

// Treasury is a rewards.Treasury whose balance survives restarts. It does not
// track who was paid; the audit log does.
type Treasury struct {
	store *Bolt
}

var _ rewards.Treasury = (*Treasury)(nil)

// Fund sets the balance when the treasury has never been funded.
func (t *Treasury) Fund(amount *uint256.Int) (bool, error) {
	funded := false
	err := t.store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTreasury)
		if bucket.Get(treasuryBalanceKey) != nil {
			return nil
		}
		funded = true
		return bucket.Put(treasuryBalanceKey, []byte(fixed.Copy(amount).Dec()))
	})
	return funded, err
}

// Balance returns the remaining budget, or zero when it cannot be read.
func (t *Treasury) Balance() *uint256.Int {
	balance, err := t.load()
	if err != nil {
		return fixed.Zero()
	}
	return balance
}

func (t *Treasury) load() (*uint256.Int, error) {
	var out *uint256.Int
	err := t.store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTreasury).Get(treasuryBalanceKey)
		if raw == nil {
			out = fixed.Zero()
			return nil
		}
		v, err := uint256.FromDecimal(string(raw))
		out = v
		return err
	})
	return out, err
}

// Pay debits amount from the budget.
func (t *Treasury) Pay(_ common.Address, amount *uint256.Int) error {
	return t.store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTreasury)
		balance := fixed.Zero()
		if raw := bucket.Get(treasuryBalanceKey); raw != nil {
			v, err := uint256.FromDecimal(string(raw))
			if err != nil {
				return err
			}
			balance = v
		}
		remaining, err := fixed.Sub(balance, amount)
		if err != nil {
			return rewards.ErrInsufficientRewards
		}
		return bucket.Put(treasuryBalanceKey, []byte(remaining.Dec()))
	})
}
