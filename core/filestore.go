package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// File names used by FileStore inside its directory.
const (
	ChainFile    = "blockchain.json"
	AccountsFile = "accounts.json"
	NodesFile    = "nodes.json"
)

// FileStore writes each snapshot as an indented JSON file. Files are
// replaced atomically so a reader never sees a half-written snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %v", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) LoadChain() ([]*Block, error) {
	var chain []*Block
	if err := s.read(ChainFile, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *FileStore) SaveChain(chain []*Block) error {
	return s.write(ChainFile, chain)
}

func (s *FileStore) LoadAccounts() (map[string]Account, error) {
	accounts := make(map[string]Account)
	if err := s.read(AccountsFile, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *FileStore) SaveAccounts(accounts map[string]Account) error {
	return s.write(AccountsFile, accounts)
}

func (s *FileStore) LoadNodes() ([]string, error) {
	var nodes []string
	if err := s.read(NodesFile, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *FileStore) SaveNodes(nodes []string) error {
	return s.write(NodesFile, nodes)
}

func (s *FileStore) Close() error { return nil }

// read treats a missing or empty file as "no snapshot yet".
func (s *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %v", name, err)
	}
	return nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", name, err)
	}
	if err := renameio.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	return nil
}
