// Package transfer implements the dispatcher module that sends queued transfers to the blockchains. Transfers are
// queued under the ens address "transfer.evan" and dispatcher "transferDispatcher", one entry per batch id. Syncing an
// entry checks the funds of every sender, sends the transactions and waits until all of them are mined. An entry whose
// transactions are still pending stops with an error and is confirmed when synced again.
package transfer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tarancss/hd"
	"golang.org/x/time/rate"

	"github.com/evannetwork/ui-angular-core-sub000/lib/block"
	"github.com/evannetwork/ui-angular-core-sub000/lib/block/types"
	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
)

// Names the module is registered with.
const (
	ENSAddress     = "transfer.evan"
	DispatcherName = "transferDispatcher"
	ServiceName    = "transferService"
)

// Errors returned by the steps.
var (
	ErrNoNet      = errors.New("network not available")
	ErrNoFunds    = errors.New("insufficient funds")
	ErrNoTo       = errors.New("missing destination address")
	ErrNoSent     = errors.New("no sent transactions to confirm")
	ErrTrxPending = errors.New("transaction not mined yet")
	ErrTrxFailed  = errors.New("transaction failed")
)

// Transfer is the payload queued for each transaction. Wallet, Change and ID correspond to the HD wallet address the
// transaction is sent from.
type Transfer struct {
	Net    string `json:"net"`
	Wallet uint32 `json:"wallet"`
	Change uint8  `json:"change"`
	ID     uint32 `json:"id"`
	To     string `json:"to"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
	Data   string `json:"data,omitempty"`
	Price  uint64 `json:"price,omitempty"`
}

// Payload returns t as a queue payload.
func (t Transfer) Payload() queue.Payload {
	var p queue.Payload

	b, _ := json.Marshal(t)
	_ = json.Unmarshal(b, &p)

	return p
}

// Funds is the result of the checkFunds step for one sender.
type Funds struct {
	Net     string `json:"net"`
	From    string `json:"from"`
	Balance string `json:"balance"`
	Token   string `json:"tokenBalance,omitempty"`
}

// Sent is the result of the send step for one transaction.
type Sent struct {
	Net  string `json:"net"`
	Hash string `json:"hash"`
	Fee  string `json:"fee"`
}

// KeyFunc returns the address and private key of an HD wallet account.
type KeyFunc func(wallet uint32, change uint8, id uint32) (addr, key []byte, err error)

// HDKeys derives the keys from an HD wallet.
func HDKeys(w *hd.HdWallet) KeyFunc {
	return func(wallet uint32, change uint8, id uint32) ([]byte, []byte, error) {
		addr, key, _, err := w.Address(wallet, change, id)

		return addr, key, err
	}
}

// Service holds what the transfer steps need: the blockchain clients, the keys, and a limiter throttling how many
// transactions are sent per second. It remembers the transactions of a batch sent before the send step failed, so
// retrying the step does not send them twice.
type Service struct {
	chains  map[string]block.Chain
	keys    KeyFunc
	limiter *rate.Limiter
	dryRun  bool
	log     logrus.FieldLogger

	l       sync.Mutex
	partial map[string]map[string]Sent // queue id -> transfer -> sent transaction
}

// NewService returns the transfer service. sendRate is the number of transactions sent per second, unlimited when
// not positive. When dryRun is set, transactions are signed but not submitted.
func NewService(chains map[string]block.Chain, keys KeyFunc, sendRate float64, dryRun bool,
	log logrus.FieldLogger) *Service {
	limit := rate.Inf
	if sendRate > 0 {
		limit = rate.Limit(sendRate)
	}

	return &Service{
		chains:  chains,
		keys:    keys,
		limiter: rate.NewLimiter(limit, 1),
		dryRun:  dryRun,
		log:     log,
		partial: make(map[string]map[string]Sent),
	}
}

// alreadySent returns the transaction sent for transfer key of the batch by a previous failed send.
func (s *Service) alreadySent(batch, key string) (Sent, bool) {
	s.l.Lock()
	defer s.l.Unlock()

	x, ok := s.partial[batch][key]

	return x, ok
}

func (s *Service) markSent(batch, key string, x Sent) {
	s.l.Lock()
	defer s.l.Unlock()

	if s.partial[batch] == nil {
		s.partial[batch] = make(map[string]Sent)
	}

	s.partial[batch][key] = x
}

func (s *Service) forget(batch string) {
	s.l.Lock()
	delete(s.partial, batch)
	s.l.Unlock()
}

// Module returns the transfer module served by s.
func Module(s *Service) *queue.Module {
	return &queue.Module{
		ENSAddress: ENSAddress,
		Dispatchers: map[string]*queue.Dispatcher{
			DispatcherName: {
				Name:        DispatcherName,
				ServiceName: ServiceName,
				Sequence: []queue.Step{
					{Name: "checkFunds", Description: "checks the senders can pay for the transfers", Run: checkFunds},
					{Name: "send", Description: "signs and sends the transactions", Run: send},
					{Name: "confirm", Description: "waits until every transaction is mined", Run: confirm},
				},
				I18N: map[string]map[string]string{
					"en": {"title": "Transfer", "checkFunds": "Checking funds", "send": "Sending", "confirm": "Confirming"},
					"de": {"title": "Überweisung", "checkFunds": "Prüfe Guthaben", "send": "Sende", "confirm": "Bestätige"},
				},
			},
		},
		Services: map[string]interface{}{ServiceName: s},
	}
}

// checkFunds makes sure every sender has a positive balance on the network of its transfer.
func checkFunds(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
	s := service.(*Service)

	transfers, err := decodeAll(e.Data)
	if err != nil {
		return nil, err
	}

	funds := make([]Funds, 0, len(transfers))

	for _, t := range transfers {
		c, ok := s.chains[t.Net]
		if !ok {
			return nil, fmt.Errorf("%s: %w", t.Net, ErrNoNet)
		}

		if t.To == "" {
			return nil, ErrNoTo
		}

		addr, _, err := s.keys(t.Wallet, t.Change, t.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot obtain HD wallet address for %d %d %d: %w", t.Wallet, t.Change, t.ID, err)
		}

		from := "0x" + hex.EncodeToString(addr)
		bal, tokBal := new(big.Int), new(big.Int)

		if err := c.Balance(from, t.Token, bal, tokBal); err != nil {
			return nil, fmt.Errorf("[%s] cannot get balance of %s: %w", t.Net, from, err)
		}

		if bal.Sign() <= 0 || (t.Token != "" && tokBal.Sign() <= 0) {
			return nil, fmt.Errorf("[%s] %s: %w", t.Net, from, ErrNoFunds)
		}

		f := Funds{Net: t.Net, From: from, Balance: bal.String()}
		if t.Token != "" {
			f.Token = tokBal.String()
		}

		funds = append(funds, f)
	}

	return funds, nil
}

// send submits the transactions, throttled by the service limiter. Transactions of the batch sent by a previous
// failed run are not sent again.
func send(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
	s := service.(*Service)

	transfers, err := decodeAll(e.Data)
	if err != nil {
		return nil, err
	}

	batch := e.QueueID.String()
	sent := make([]Sent, 0, len(transfers))

	for i, t := range transfers {
		tk := transferKey(i, t)

		if x, ok := s.alreadySent(batch, tk); ok {
			s.log.WithField("net", t.Net).WithField("hash", x.Hash).Info("Transaction already sent")

			sent = append(sent, x)

			continue
		}

		c, ok := s.chains[t.Net]
		if !ok {
			return nil, fmt.Errorf("%s: %w", t.Net, ErrNoNet)
		}

		addr, key, err := s.keys(t.Wallet, t.Change, t.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot obtain HD wallet address for %d %d %d: %w", t.Wallet, t.Change, t.ID, err)
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var data []byte
		if len(t.Data) > 0 {
			data = []byte(t.Data)
		}

		fee, hash, err := c.Send("0x"+hex.EncodeToString(addr), t.To, t.Token, t.Amount, data,
			hex.EncodeToString(key), t.Price, s.dryRun)
		if err != nil {
			return nil, fmt.Errorf("[%s] cannot send to %s: %w", t.Net, t.To, err)
		}

		x := Sent{Net: t.Net, Hash: "0x" + hex.EncodeToString(hash)}
		if fee != nil {
			x.Fee = fee.String()
		}

		s.log.WithField("net", t.Net).WithField("hash", x.Hash).Info("Transaction sent")

		s.markSent(batch, tk, x)
		sent = append(sent, x)
	}

	s.forget(batch)

	return sent, nil
}

// transferKey identifies the transfer at index i of a batch.
func transferKey(i int, t Transfer) string {
	b, _ := json.Marshal(t)

	return strconv.Itoa(i) + ":" + string(b)
}

// confirm checks every transaction sent by the previous step is mined and successful.
func confirm(ctx context.Context, service interface{}, e *queue.Entry) (interface{}, error) {
	s := service.(*Service)

	if len(e.Results) < 2 { //nolint:gomnd // results of checkFunds and send
		return nil, ErrNoSent
	}

	var sent []Sent
	if err := convert(e.Results[1], &sent); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSent, err)
	}

	if s.dryRun {
		return sent, nil
	}

	receipts := make([]types.Receipt, 0, len(sent))

	for _, x := range sent {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, ok := s.chains[x.Net]
		if !ok {
			return nil, fmt.Errorf("%s: %w", x.Net, ErrNoNet)
		}

		r, err := c.Get(x.Hash)
		if err != nil {
			return nil, fmt.Errorf("[%s] cannot get transaction: %w", x.Net, err)
		}

		switch r.Status {
		case types.TrxPending:
			return nil, fmt.Errorf("[%s] %s: %w, retry in %ds", x.Net, x.Hash, ErrTrxPending, c.AvgBlock())
		case types.TrxFailed:
			return nil, fmt.Errorf("[%s] %s: %w", x.Net, x.Hash, ErrTrxFailed)
		}

		receipts = append(receipts, r)
	}

	return receipts, nil
}

func decodeAll(data []queue.Payload) ([]Transfer, error) {
	transfers := make([]Transfer, len(data))
	for i, p := range data {
		if err := convert(p, &transfers[i]); err != nil {
			return nil, fmt.Errorf("malformed transfer %d: %w", i, err)
		}
	}

	return transfers, nil
}

// convert copies the JSON form of v into out.
func convert(v, out interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, out)
}
