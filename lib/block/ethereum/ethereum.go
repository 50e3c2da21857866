// Package ethereum implements the chain interface for ethereum networks.
package ethereum

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tarancss/ethcli"

	"github.com/evannetwork/ui-angular-core-sub000/lib/block/types"
)

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c *ethcli.EthCli
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication.
func Init(node, secret string) (*Ethereum, error) {
	c := ethcli.Init(node, secret)
	if c == nil {
		return nil, errors.New("cannot connect to ethereum blockchain in " + node)
	}

	return &Ethereum{c: c}, nil
}

// AvgBlock returns the average time to mine a block in seconds.
func (e *Ethereum) AvgBlock() int {
	return 15 //nolint:gomnd // ethereum block time
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.End()
}

// Balance loads the ether balance, and the token balance if specified, onto the provided big.Int pointers, or error
// otherwise.
func (e *Ethereum) Balance(address, token string, ethBal, tokBal *big.Int) error {
	eb, tb, err := e.c.GetBalance(address, token)
	if err != nil {
		return err
	}

	ethBal.Set(eb)

	if tb != nil {
		tokBal.Set(tb)
	}

	return nil
}

// Send executes a transaction in the blockchain with the given parameters returning the expected fee, the transaction
// hash or an error otherwise.
func (e *Ethereum) Send(fromAddress, toAddress, token, amount string, data []byte, key string, priceIn uint64,
	dryRun bool) (*big.Int, []byte, error) {
	if token != "" && len(data) > 0 {
		return nil, nil, types.ErrSendTokenData
	}

	price, gas, hash, err := e.c.SendTrx(fromAddress, toAddress, token, amount, data, key, priceIn, dryRun)
	if err != nil {
		return nil, nil, err
	}

	return Fee(price, gas), hash, nil
}

// Get returns the details of the transaction for the given hash.
func (e *Ethereum) Get(hash string) (types.Receipt, error) {
	t, err := e.c.GetTrx(hash)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("%s: %w", hash, err)
	}

	return types.Receipt{
		Hash:   hash,
		Block:  t.Blk,
		TS:     t.TS,
		Fee:    t.Fee,
		Status: t.Status,
		Token:  hexOrEmpty(t.Token),
		Data:   hexOrEmpty(t.Data),
		To:     t.To,
		From:   t.From,
		Amount: t.Amount,
	}, nil
}

// Fee returns price * gas.
func Fee(price, gas uint64) *big.Int {
	fee := new(big.Int).SetUint64(price)

	return fee.Mul(fee, new(big.Int).SetUint64(gas))
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	return fmt.Sprintf("0x%x", b)
}
