package safex

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/standardweb3/safex/pkg/orderbook"
)

const decimalsCacheSize = 1024

// Pair identifies a market. (A,B) and (B,A) are distinct pairs; the
// registry never swaps them.
type Pair struct {
	Base  common.Address
	Quote common.Address
}

// Registry maps pairs to their orderbooks and assigns stable,
// append-only ids starting at 1. Token decimals come from the
// external oracle, cached so repeated pair creation does not
// re-query it.
type Registry struct {
	engine   common.Address
	ledger   orderbook.Transferer
	decimals DecimalsOracle
	decCache *lru.Cache

	books  []*orderbook.Orderbook
	byPair map[Pair]uint64
}

func NewRegistry(engine common.Address, ledger orderbook.Transferer, decimals DecimalsOracle) *Registry {
	cache, err := lru.New(decimalsCacheSize)
	if err != nil {
		// only fails on a non-positive size
		panic(err)
	}
	return &Registry{
		engine:   engine,
		ledger:   ledger,
		decimals: decimals,
		decCache: cache,
		byPair:   make(map[Pair]uint64),
	}
}

// bookAddr derives the deposit account of book id.
func bookAddr(id uint64) common.Address {
	b := make([]byte, 0, 20)
	b = append(b, []byte("safex/book/")...)
	b = binary.BigEndian.AppendUint64(b, id)
	return common.BytesToAddress(b)
}

func (r *Registry) tokenDecimals(token common.Address) (uint8, error) {
	if v, ok := r.decCache.Get(token); ok {
		return v.(uint8), nil
	}
	d, err := r.decimals.Decimals(token)
	if err != nil {
		return 0, err
	}
	r.decCache.Add(token, d)
	return d, nil
}

// Decimals returns the token's precision through the cache.
func (r *Registry) Decimals(token common.Address) (uint8, error) {
	return r.tokenDecimals(token)
}

// Create builds the orderbook for a new pair. Fails with
// PairExistsError when the pair is already mapped.
func (r *Registry) Create(base, quote common.Address) (*orderbook.Orderbook, error) {
	p := Pair{Base: base, Quote: quote}
	if _, ok := r.byPair[p]; ok {
		return nil, &PairExistsError{Base: base, Quote: quote}
	}

	baseDec, err := r.tokenDecimals(base)
	if err != nil {
		return nil, err
	}
	quoteDec, err := r.tokenDecimals(quote)
	if err != nil {
		return nil, err
	}

	id := uint64(len(r.books) + 1)
	book, err := orderbook.New(id, bookAddr(id), r.engine, base, quote, baseDec, quoteDec, r.ledger)
	if err != nil {
		return nil, err
	}
	r.books = append(r.books, book)
	r.byPair[p] = id
	return book, nil
}

// GetOrCreate returns the pair's book, creating it on first use.
// Reports whether the book was created by this call.
func (r *Registry) GetOrCreate(base, quote common.Address) (*orderbook.Orderbook, bool, error) {
	if b := r.Get(base, quote); b != nil {
		return b, false, nil
	}
	b, err := r.Create(base, quote)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Get returns the pair's book, nil when the pair is unknown.
func (r *Registry) Get(base, quote common.Address) *orderbook.Orderbook {
	id, ok := r.byPair[Pair{Base: base, Quote: quote}]
	if !ok {
		return nil
	}
	return r.books[id-1]
}

// GetByID returns the book with the given id, nil when out of range.
func (r *Registry) GetByID(id uint64) *orderbook.Orderbook {
	if id == 0 || id > uint64(len(r.books)) {
		return nil
	}
	return r.books[id-1]
}

// Enumerate returns books with ids in [start, end), clamped to the
// registered range.
func (r *Registry) Enumerate(start, end uint64) []*orderbook.Orderbook {
	if start < 1 {
		start = 1
	}
	if end > uint64(len(r.books))+1 {
		end = uint64(len(r.books)) + 1
	}
	if start >= end {
		return nil
	}
	out := make([]*orderbook.Orderbook, 0, end-start)
	for id := start; id < end; id++ {
		out = append(out, r.books[id-1])
	}
	return out
}

// Len returns the number of registered pairs.
func (r *Registry) Len() int {
	return len(r.books)
}

// restore re-registers a book loaded from persisted state.
func (r *Registry) restore(book *orderbook.Orderbook) {
	r.books = append(r.books, book)
	r.byPair[Pair{Base: book.Base(), Quote: book.Quote()}] = book.ID()
}
