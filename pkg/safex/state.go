package safex

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	log "github.com/helinwang/log15"

	"github.com/standardweb3/safex/pkg/orderbook"
)

// State persists the exchange between runs: the token table, the
// registered pair list, and one RLP snapshot per orderbook, all
// stored as leaves of a patricia trie over the disk database.
type State struct {
	db     *trie.Database
	diskDB ethdb.Database
	trie   *trie.Trie
}

var (
	bookPrefix     = []byte{0}
	tokenPrefix    = []byte{1}
	pairListPrefix = []byte{2}

	stateRootKey = []byte("safex-state-root")
)

// NewState opens an empty state over diskDB.
func NewState(diskDB ethdb.Database) *State {
	db := trie.NewDatabase(diskDB)
	t, err := trie.New(common.Hash{}, db)
	if err != nil {
		panic(err)
	}
	return &State{db: db, diskDB: diskDB, trie: t}
}

// OpenState opens the state at a previously committed root.
func OpenState(diskDB ethdb.Database, root common.Hash) (*State, error) {
	db := trie.NewDatabase(diskDB)
	t, err := trie.New(root, db)
	if err != nil {
		return nil, err
	}
	return &State{db: db, diskDB: diskDB, trie: t}, nil
}

// LoadRoot reads the last committed state root from diskDB.
func LoadRoot(diskDB ethdb.Database) (common.Hash, bool) {
	b, err := diskDB.Get(stateRootKey)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func bookPath(p Pair) []byte {
	path := append([]byte{}, bookPrefix...)
	path = append(path, p.Base[:]...)
	path = append(path, p.Quote[:]...)
	return path
}

func tokenPath(addr common.Address) []byte {
	return append(append([]byte{}, tokenPrefix...), addr[:]...)
}

// encodePath expands key bytes into trie nibbles, for prefix
// iteration.
func encodePath(str []byte) []byte {
	l := len(str) * 2
	var nibbles = make([]byte, l)
	for i, b := range str {
		nibbles[i*2] = b / 16
		nibbles[i*2+1] = b % 16
	}
	return nibbles
}

type pairRecord struct {
	Base  common.Address
	Quote common.Address
}

// Save writes the engine's registry, every book snapshot, and the
// token table into the trie.
func (s *State) Save(e *Engine, tokens *TokenTable) error {
	reg := e.Registry()
	books := reg.Enumerate(1, uint64(reg.Len())+1)
	pairs := make([]pairRecord, 0, len(books))
	for _, book := range books {
		enc, err := book.EncodeSnapshot()
		if err != nil {
			return err
		}
		p := Pair{Base: book.Base(), Quote: book.Quote()}
		s.trie.Update(bookPath(p), enc)
		pairs = append(pairs, pairRecord{Base: p.Base, Quote: p.Quote})
	}

	b, err := rlp.EncodeToBytes(pairs)
	if err != nil {
		return err
	}
	s.trie.Update(pairListPrefix, b)

	for _, t := range tokens.Tokens() {
		b, err := rlp.EncodeToBytes(t)
		if err != nil {
			return err
		}
		s.trie.Update(tokenPath(t.Addr), b)
	}
	return nil
}

// Commit flushes the trie to disk and records the new root.
func (s *State) Commit() (common.Hash, error) {
	root, err := s.trie.Commit(nil)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.db.Commit(root, false); err != nil {
		return common.Hash{}, err
	}
	if err := s.diskDB.Put(stateRootKey, root[:]); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}

// Tokens reads the persisted token table.
func (s *State) Tokens() *TokenTable {
	table := NewTokenTable()

	prefix := encodePath(tokenPrefix)
	iter := s.trie.NodeIterator(prefix)

	hasNext := true
	foundPrefix := false
	for ; hasNext; hasNext = iter.Next(true) {
		if err := iter.Error(); err != nil {
			log.Error("error iterating state trie's tokens", "err", err)
			break
		}

		if !iter.Leaf() {
			continue
		}

		path := iter.Path()
		if !bytes.HasPrefix(path, prefix) {
			if foundPrefix {
				break
			}
			continue
		}
		foundPrefix = true

		var token Token
		err := rlp.DecodeBytes(iter.LeafBlob(), &token)
		if err != nil {
			panic(err)
		}
		table.Register(token.Addr, token.TokenInfo)
	}
	return table
}

// Restore rebuilds an engine from the persisted state. The returned
// token table backs the engine's decimals oracle.
func (s *State) Restore(cfg Config) (*Engine, *TokenTable, error) {
	tokens := s.Tokens()
	if cfg.Decimals == nil {
		cfg.Decimals = tokens
	}
	e := NewEngine(cfg)

	b := s.trie.Get(pairListPrefix)
	if len(b) == 0 {
		return e, tokens, nil
	}
	var pairs []pairRecord
	if err := rlp.DecodeBytes(b, &pairs); err != nil {
		return nil, nil, err
	}

	for _, p := range pairs {
		enc := s.trie.Get(bookPath(Pair{Base: p.Base, Quote: p.Quote}))
		if len(enc) == 0 {
			log.Error("pair listed but book snapshot missing", "base", p.Base, "quote", p.Quote)
			continue
		}
		book, err := orderbook.DecodeSnapshot(enc, cfg.Addr, cfg.Ledger)
		if err != nil {
			return nil, nil, err
		}
		e.Registry().restore(book)
	}
	return e, tokens, nil
}
