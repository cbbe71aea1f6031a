package safex

import (
	"errors"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	"github.com/holiman/uint256"

	log "github.com/helinwang/log15"
)

// RPCServer exposes the engine over net/rpc. It owns the engine's
// serialization: every call locks the server before touching the
// engine, satisfying the single-writer execution model.
type RPCServer struct {
	mu     sync.Mutex
	engine *Engine
	ledger *MemLedger
	tokens *TokenTable
}

func NewRPCServer(engine *Engine, ledger *MemLedger, tokens *TokenTable) *RPCServer {
	return &RPCServer{engine: engine, ledger: ledger, tokens: tokens}
}

// Start registers the exchange service and serves HTTP RPC on addr.
func (r *RPCServer) Start(addr string) error {
	s := &ExchangeService{s: r}

	err := rpc.Register(s)
	if err != nil {
		return err
	}

	rpc.HandleHTTP()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		err = http.Serve(l, nil)
		if err != nil {
			log.Error("error serving RPC server", "err", err)
		}
	}()
	return nil
}

// ExchangeService is the RPC surface. Amounts travel as decimal
// strings, addresses as hex.
type ExchangeService struct {
	s *RPCServer
}

type TokenState struct {
	Tokens []Token
}

func (x *ExchangeService) Tokens(_ int, r *TokenState) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	r.Tokens = x.s.tokens.Tokens()
	return nil
}

type PairInfo struct {
	ID       uint64
	Base     string
	Quote    string
	Symbol   string
	MktPrice uint64
}

type PairState struct {
	Pairs []PairInfo
}

func (x *ExchangeService) Pairs(_ int, r *PairState) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()

	reg := x.s.engine.Registry()
	for _, book := range reg.Enumerate(1, uint64(reg.Len())+1) {
		r.Pairs = append(r.Pairs, PairInfo{
			ID:       book.ID(),
			Base:     book.Base().Hex(),
			Quote:    book.Quote().Hex(),
			Symbol:   x.s.tokens.Symbol(book.Base()) + "/" + x.s.tokens.Symbol(book.Quote()),
			MktPrice: book.MktPrice(),
		})
	}
	return nil
}

type BalanceArgs struct {
	Owner string
	Token string
}

type BalanceReply struct {
	Amount string
}

func (x *ExchangeService) Balance(args BalanceArgs, r *BalanceReply) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	r.Amount = x.s.ledger.BalanceOf(parseAddr(args.Token), parseAddr(args.Owner)).Dec()
	return nil
}

type FaucetArgs struct {
	Token  string
	Owner  string
	Amount string
}

// Faucet mints dev balances. The daemon's ledger is in-memory; there
// is nothing to protect.
func (x *ExchangeService) Faucet(args FaucetArgs, r *BalanceReply) error {
	amount, err := uint256.FromDecimal(args.Amount)
	if err != nil {
		return err
	}
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	x.s.ledger.Mint(parseAddr(args.Token), parseAddr(args.Owner), amount)
	r.Amount = x.s.ledger.BalanceOf(parseAddr(args.Token), parseAddr(args.Owner)).Dec()
	return nil
}

type LevelState struct {
	Price  uint64
	Amount string
	Count  uint32
}

type BookArgs struct {
	Base  string
	Quote string
	Depth int
}

type BookReply struct {
	Lmp  uint64
	Bids []LevelState
	Asks []LevelState
}

func (x *ExchangeService) Book(args BookArgs, r *BookReply) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()

	book := x.s.engine.Registry().Get(parseAddr(args.Base), parseAddr(args.Quote))
	if book == nil {
		return errors.New("unknown pair")
	}
	depth := args.Depth
	if depth <= 0 {
		depth = 20
	}
	r.Lmp = book.Lmp()
	for _, lvl := range book.Depth(true, depth) {
		r.Bids = append(r.Bids, LevelState{Price: lvl.Price, Amount: lvl.Amount.Dec(), Count: lvl.Count})
	}
	for _, lvl := range book.Depth(false, depth) {
		r.Asks = append(r.Asks, LevelState{Price: lvl.Price, Amount: lvl.Amount.Dec(), Count: lvl.Count})
	}
	return nil
}

type PlaceArgs struct {
	Sender    string
	Base      string
	Quote     string
	IsBid     bool
	Price     uint64 // ignored for market orders
	Amount    string
	IsMaker   bool
	N         uint32
	UID       uint64
	Recipient string // empty = sender
}

type PlaceReply struct {
	MakePrice uint64
	Matched   string
	Placed    string
	OrderID   uint32
}

func (x *ExchangeService) place(args PlaceArgs, r *PlaceReply, market bool) error {
	amount, err := uint256.FromDecimal(args.Amount)
	if err != nil {
		return err
	}
	sender := parseAddr(args.Sender)
	recipient := sender
	if args.Recipient != "" {
		recipient = parseAddr(args.Recipient)
	}
	base, quote := parseAddr(args.Base), parseAddr(args.Quote)

	x.s.mu.Lock()
	defer x.s.mu.Unlock()

	var res OrderResult
	switch {
	case market && args.IsBid:
		res, err = x.s.engine.MarketBuy(sender, base, quote, amount, args.IsMaker, args.N, args.UID, recipient)
	case market:
		res, err = x.s.engine.MarketSell(sender, base, quote, amount, args.IsMaker, args.N, args.UID, recipient)
	case args.IsBid:
		res, err = x.s.engine.LimitBuy(sender, base, quote, args.Price, amount, args.IsMaker, args.N, args.UID, recipient)
	default:
		res, err = x.s.engine.LimitSell(sender, base, quote, args.Price, amount, args.IsMaker, args.N, args.UID, recipient)
	}
	if err != nil {
		return err
	}
	r.MakePrice = res.MakePrice
	r.Matched = res.Matched.Dec()
	r.Placed = res.Placed.Dec()
	r.OrderID = res.OrderID
	return nil
}

func (x *ExchangeService) PlaceLimit(args PlaceArgs, r *PlaceReply) error {
	return x.place(args, r, false)
}

func (x *ExchangeService) PlaceMarket(args PlaceArgs, r *PlaceReply) error {
	return x.place(args, r, true)
}

type CancelArgs struct {
	Sender  string
	Base    string
	Quote   string
	IsBid   bool
	OrderID uint32
	UID     uint64
}

type CancelReply struct {
	Refunded string
}

func (x *ExchangeService) Cancel(args CancelArgs, r *CancelReply) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()

	refund, err := x.s.engine.CancelOrder(parseAddr(args.Sender), parseAddr(args.Base), parseAddr(args.Quote), args.IsBid, args.OrderID, args.UID)
	if err != nil {
		return err
	}
	r.Refunded = refund.Dec()
	return nil
}

type PairArgs struct {
	Base  string
	Quote string
}

func (x *ExchangeService) MktPrice(args PairArgs, r *uint64) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()

	p, err := x.s.engine.MktPrice(parseAddr(args.Base), parseAddr(args.Quote))
	if err != nil {
		return err
	}
	*r = p
	return nil
}
