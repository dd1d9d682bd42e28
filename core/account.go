package core

import (
	"fmt"
	"sync"
	"time"
)

// DefaultInitialBalance is credited to every identity on first reference.
const DefaultInitialBalance = 100

// Account tracks the credits and standing of one identity.
type Account struct {
	ID         string  `json:"-"`
	Reputation int64   `json:"reputation"`
	Reward     int64   `json:"reward"`
	Balance    int64   `json:"balance"`
	LastWin    float64 `json:"lastWin"`
}

// WonWithin reports whether the account was selected as winner less than d
// before now.
func (a Account) WonWithin(now time.Time, d time.Duration) bool {
	if a.LastWin == 0 {
		return false
	}
	return now.Sub(fromUnixSeconds(a.LastWin)) < d
}

// AccountReader is a read view over accounts. Unknown identities read as
// fresh accounts carrying the initial balance.
type AccountReader interface {
	Get(id string) Account
}

// Accounts is the account ledger. Every mutation persists the full account
// set before it becomes visible.
type Accounts struct {
	mu             sync.Mutex
	accounts       map[string]Account
	initialBalance int64
	store          Store
}

// NewAccounts loads the persisted accounts.
func NewAccounts(store Store, initialBalance int64) (*Accounts, error) {
	accounts, err := store.LoadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %v", err)
	}
	if accounts == nil {
		accounts = make(map[string]Account)
	}
	for id, acc := range accounts {
		acc.ID = id
		accounts[id] = acc
	}
	return &Accounts{
		accounts:       accounts,
		initialBalance: initialBalance,
		store:          store,
	}, nil
}

// Get returns the account for id without creating it.
func (a *Accounts) Get(id string) Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookup(a.accounts, id)
}

// Snapshot returns a copy of every materialized account.
func (a *Accounts) Snapshot() map[string]Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Account, len(a.accounts))
	for id, acc := range a.accounts {
		out[id] = acc
	}
	return out
}

// Update runs fn against a staged view of the accounts. If fn succeeds the
// staged changes are persisted and then published; otherwise nothing
// changes. Updates are serialized.
func (a *Accounts) Update(fn func(tx *AccountTx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx := &AccountTx{parent: a, staged: make(map[string]Account)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}

	next := make(map[string]Account, len(a.accounts)+len(tx.staged))
	for id, acc := range a.accounts {
		next[id] = acc
	}
	for id, acc := range tx.staged {
		next[id] = acc
	}
	if err := a.store.SaveAccounts(next); err != nil {
		return persistenceError("accounts", err)
	}
	a.accounts = next
	return nil
}

// Debit removes amount from the balance of id.
func (a *Accounts) Debit(id string, amount int64) error {
	return a.Update(func(tx *AccountTx) error { return tx.Debit(id, amount) })
}

// CreditBalance adds amount to the balance of id.
func (a *Accounts) CreditBalance(id string, amount int64) error {
	return a.Update(func(tx *AccountTx) error { return tx.CreditBalance(id, amount) })
}

// CreditReward adds amount to the cumulative reward of id.
func (a *Accounts) CreditReward(id string, amount int64) error {
	return a.Update(func(tx *AccountTx) error { return tx.CreditReward(id, amount) })
}

// CreditReputation raises the reputation of id.
func (a *Accounts) CreditReputation(id string, amount int64) error {
	return a.Update(func(tx *AccountTx) error { return tx.CreditReputation(id, amount) })
}

func (a *Accounts) lookup(m map[string]Account, id string) Account {
	if acc, ok := m[id]; ok {
		return acc
	}
	return Account{ID: id, Balance: a.initialBalance}
}

// AccountTx stages account mutations inside Accounts.Update.
type AccountTx struct {
	parent *Accounts
	staged map[string]Account
}

// Get returns the staged account if it was touched, else the committed one.
func (tx *AccountTx) Get(id string) Account {
	if acc, ok := tx.staged[id]; ok {
		return acc
	}
	return tx.parent.lookup(tx.parent.accounts, id)
}

func (tx *AccountTx) Debit(id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative debit %d: %w", amount, ErrInvalidArgument)
	}
	acc := tx.Get(id)
	if acc.Balance < amount {
		return fmt.Errorf("balance %d of %s is below %d: %w", acc.Balance, id, amount, ErrInsufficientFunds)
	}
	acc.Balance -= amount
	tx.staged[id] = acc
	return nil
}

func (tx *AccountTx) CreditBalance(id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative balance credit %d: %w", amount, ErrInvalidArgument)
	}
	acc := tx.Get(id)
	acc.Balance += amount
	tx.staged[id] = acc
	return nil
}

func (tx *AccountTx) CreditReward(id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative reward credit %d: %w", amount, ErrInvalidArgument)
	}
	acc := tx.Get(id)
	acc.Reward += amount
	tx.staged[id] = acc
	return nil
}

// CreditReputation only ever raises reputation.
func (tx *AccountTx) CreditReputation(id string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("reputation cannot decrease (%d): %w", amount, ErrInvalidArgument)
	}
	acc := tx.Get(id)
	acc.Reputation += amount
	tx.staged[id] = acc
	return nil
}

// SetLastWin records t as the most recent winner selection of id.
func (tx *AccountTx) SetLastWin(id string, t time.Time) {
	acc := tx.Get(id)
	acc.LastWin = unixSeconds(t)
	tx.staged[id] = acc
}
