package safex

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenInfo describes a listed fungible asset.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
}

// Token is a listed asset with its identity.
type Token struct {
	Addr common.Address
	TokenInfo
}

// DecimalsOracle reports a token's precision. Pair creation consults
// it once per token.
type DecimalsOracle interface {
	Decimals(token common.Address) (uint8, error)
}

// WrappedNative bridges native-value callers into the token path.
type WrappedNative interface {
	Token() common.Address
	Deposit(from common.Address, value *uint256.Int) error
	Withdraw(to common.Address, amount *uint256.Int) error
}

// TokenTable is an in-memory token listing. It implements
// DecimalsOracle for the registry.
type TokenTable struct {
	mu     sync.Mutex
	tokens map[common.Address]TokenInfo
}

func NewTokenTable() *TokenTable {
	return &TokenTable{tokens: make(map[common.Address]TokenInfo)}
}

// Register lists a token. Re-registering overwrites the listing.
func (t *TokenTable) Register(addr common.Address, info TokenInfo) {
	t.mu.Lock()
	t.tokens[addr] = info
	t.mu.Unlock()
}

func (t *TokenTable) Info(addr common.Address) (TokenInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tokens[addr]
	return info, ok
}

func (t *TokenTable) Decimals(addr common.Address) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tokens[addr]
	if !ok {
		return 0, &UnknownTokenError{Token: addr}
	}
	return info.Decimals, nil
}

// Symbol returns the token's display symbol, or its hex address when
// the token is not listed.
func (t *TokenTable) Symbol(addr common.Address) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.tokens[addr]; ok {
		return info.Symbol
	}
	return addr.Hex()
}

// Tokens returns all listed tokens sorted by address.
func (t *TokenTable) Tokens() []Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := make([]Token, 0, len(t.tokens))
	for addr, info := range t.tokens {
		r = append(r, Token{Addr: addr, TokenInfo: info})
	}
	sort.Slice(r, func(i, j int) bool {
		return r[i].Addr.Hex() < r[j].Addr.Hex()
	})
	return r
}

// WETH is a minimal wrapped-native adapter over the ledger: native
// value wraps into ledger balance of the wrapped token and back.
type WETH struct {
	token  common.Address
	ledger *MemLedger
}

func NewWETH(token common.Address, ledger *MemLedger) *WETH {
	return &WETH{token: token, ledger: ledger}
}

func (w *WETH) Token() common.Address {
	return w.token
}

func (w *WETH) Deposit(from common.Address, value *uint256.Int) error {
	w.ledger.Mint(w.token, from, value)
	return nil
}

func (w *WETH) Withdraw(to common.Address, amount *uint256.Int) error {
	return w.ledger.Burn(w.token, to, amount)
}
