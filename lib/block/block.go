// Package block defines the interface required for all blockchain or network connections used by dispatchers.
package block

import (
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/evannetwork/ui-angular-core-sub000/lib/block/ethereum"
	"github.com/evannetwork/ui-angular-core-sub000/lib/block/types"
	"github.com/evannetwork/ui-angular-core-sub000/lib/config"
)

// Chain is an interface that contains the required methods. It has been designed to be as much standard as possible,
// however, there may be specific blockchains or networks that would require different types or more methods.
type Chain interface {
	// member-type methods
	AvgBlock() int // average block mining rate in seconds
	// methods
	Close()
	Balance(account, token string, bal, tokBal *big.Int) error
	Send(fromAddress, toAddress, token, amount string, data []byte, key string, priceIn uint64,
		dryRun bool) (fee *big.Int, hash []byte, err error)
	Get(hash string) (types.Receipt, error)
}

// Init loads all the clients read from the config to blockchains into a map. The evan network and its test networks
// are ethereum-type chains, so every configured node is connected with the ethereum client.
func Init(bc []config.BlockConfig, log logrus.FieldLogger) (map[string]Chain, error) {
	m := make(map[string]Chain)

	for _, block := range bc {
		if block.Node == "" {
			log.WithField("net", block.Name).Warn("Blockchain without node. Ignoring...")

			continue
		}

		c, err := ethereum.Init(block.Node, block.Secret)
		if err != nil {
			End(m)

			return nil, fmt.Errorf("[%s] %w", block.Name, err)
		}

		m[block.Name] = c
	}

	return m, nil
}

// End closes gracefully all the blockchain clients opened.
func End(bc map[string]Chain) {
	for _, block := range bc {
		block.Close()
	}
}
