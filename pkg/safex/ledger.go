package safex

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger is the fungible transfer capability the engine consumes:
// move amount of token between two accounts. The engine pulls
// deposits with from=sender and pays refunds with from=itself, so a
// single explicit-from move covers both the transfer and
// transferFrom shapes of the external interface.
type Ledger interface {
	Transfer(token common.Address, from, to common.Address, amount *uint256.Int) error
	BalanceOf(token, owner common.Address) *uint256.Int
}

// MemLedger is an in-memory Ledger used by the daemon and tests.
type MemLedger struct {
	mu  sync.Mutex
	bal map[common.Address]map[common.Address]*uint256.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{bal: make(map[common.Address]map[common.Address]*uint256.Int)}
}

func (l *MemLedger) balance(token, owner common.Address) *uint256.Int {
	if l.bal[token] == nil {
		l.bal[token] = make(map[common.Address]*uint256.Int)
	}
	if l.bal[token][owner] == nil {
		l.bal[token][owner] = new(uint256.Int)
	}
	return l.bal[token][owner]
}

// Mint credits owner with amount of token.
func (l *MemLedger) Mint(token, owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balance(token, owner)
	b.Add(b, amount)
}

// Burn removes amount of token from owner.
func (l *MemLedger) Burn(token, owner common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balance(token, owner)
	if b.Cmp(amount) < 0 {
		return &InsufficientBalanceError{Token: token, Owner: owner, Have: b.ToBig(), Need: amount.ToBig()}
	}
	b.Sub(b, amount)
	return nil
}

func (l *MemLedger) Transfer(token common.Address, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fb := l.balance(token, from)
	if fb.Cmp(amount) < 0 {
		return &InsufficientBalanceError{Token: token, Owner: from, Have: fb.ToBig(), Need: amount.ToBig()}
	}
	fb.Sub(fb, amount)
	tb := l.balance(token, to)
	tb.Add(tb, amount)
	return nil
}

func (l *MemLedger) BalanceOf(token, owner common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, owner).Clone()
}
