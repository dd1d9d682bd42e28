package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisPreviousHash is the previous-hash value carried by the first block.
const GenesisPreviousHash = "0"

// Block is one entry of the verdict chain.
type Block struct {
	Index        int            `json:"index"`
	Timestamp    float64        `json:"timestamp"`
	PreviousHash string         `json:"previousHash"`
	Data         map[string]any `json:"data"`
	Hash         string         `json:"hash"`
}

// NewBlock builds a block at the given position and seals it with its hash.
func NewBlock(index int, timestamp time.Time, previousHash string, data map[string]any) (*Block, error) {
	if data == nil {
		data = map[string]any{}
	}
	b := &Block{
		Index:        index,
		Timestamp:    unixSeconds(timestamp),
		PreviousHash: previousHash,
		Data:         data,
	}
	hash, err := b.CalculateHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// CalculateHash returns the sha256 digest of every field except Hash.
// Map keys are marshalled in sorted order so the digest does not depend on
// field or insertion order.
func (b *Block) CalculateHash() (string, error) {
	data, err := json.Marshal(map[string]any{
		"index":        b.Index,
		"timestamp":    b.Timestamp,
		"previousHash": b.PreviousHash,
		"data":         b.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode block %d: %v", b.Index, err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}

// Creator returns the block creator recorded in the payload, if any.
func (b *Block) Creator() string {
	creator, _ := b.Data[FieldBlockCreator].(string)
	return creator
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
