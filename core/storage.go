package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Store persists whole-state snapshots of the chain, the accounts and the
// registered nodes. Every Save replaces the previous snapshot.
type Store interface {
	LoadChain() ([]*Block, error)
	SaveChain(chain []*Block) error
	LoadAccounts() (map[string]Account, error)
	SaveAccounts(accounts map[string]Account) error
	LoadNodes() ([]string, error)
	SaveNodes(nodes []string) error
	Close() error
}

var (
	chainKey    = []byte("chain")
	accountsKey = []byte("accounts")
	nodesKey    = []byte("nodes")
)

// LevelStore keeps each snapshot as a JSON value under a fixed LevelDB key.
type LevelStore struct {
	db   *leveldb.DB
	sync bool
}

// OpenLevelStore opens (or creates) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return &LevelStore{db: db, sync: true}, nil
}

// NewMemLevelStore returns a LevelStore backed by memory only.
func NewMemLevelStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %v", err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) LoadChain() ([]*Block, error) {
	var chain []*Block
	if err := s.get(chainKey, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *LevelStore) SaveChain(chain []*Block) error {
	return s.put(chainKey, chain)
}

func (s *LevelStore) LoadAccounts() (map[string]Account, error) {
	accounts := make(map[string]Account)
	if err := s.get(accountsKey, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *LevelStore) SaveAccounts(accounts map[string]Account) error {
	return s.put(accountsKey, accounts)
}

func (s *LevelStore) LoadNodes() ([]string, error) {
	var nodes []string
	if err := s.get(nodesKey, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *LevelStore) SaveNodes(nodes []string) error {
	return s.put(nodesKey, nodes)
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

// get decodes the value at key into v. A missing key leaves v untouched.
func (s *LevelStore) get(key []byte, v any) error {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %v", key, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %v", key, err)
	}
	return nil
}

func (s *LevelStore) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", key, err)
	}
	if err := s.db.Put(key, data, &opt.WriteOptions{Sync: s.sync}); err != nil {
		return fmt.Errorf("failed to store %s: %v", key, err)
	}
	return nil
}
