// Package types common blockchain types.
package types

import (
	"errors"
)

// Transaction status constants
const (
	TrxPending uint8 = 0
	TrxFailed  uint8 = 1
	TrxSuccess uint8 = 2
)

// Receipt contains the details of a sent transaction. For the time being, we keep just one transfer from `From` to
// `To` but there are blockchains that have multiple transfers in one transaction.
type Receipt struct {
	Hash   string `json:"hash"`
	Block  uint64 `json:"block"`
	TS     int32  `json:"ts"`
	Fee    uint64 `json:"fee"`
	Status uint8  `json:"status"`
	Token  string `json:"token,omitempty"`
	Data   string `json:"data,omitempty"`
	To     string `json:"to"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// Mined reports whether the transaction is in a block.
func (r Receipt) Mined() bool {
	return r.Status != TrxPending
}

// Error codes.
var (
	ErrNoBlock       = errors.New("block not available yet")
	ErrNoTrx         = errors.New("transaction not found")
	ErrNoChain       = errors.New("blockchain not configured")
	ErrSendTokenData = errors.New("cannot send token and data at same time")
)
