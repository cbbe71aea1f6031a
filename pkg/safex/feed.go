package safex

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/helinwang/log15"
)

const tradeBufferSize = 64

// DepthUpdate is one pushed frame: the aggregated book of every pair
// plus the trades since the previous frame, at most the latest
// tradeBufferSize of them.
type DepthUpdate struct {
	Type   string       `json:"type"`
	Pairs  []PairDepth  `json:"pairs"`
	Trades []TradeEntry `json:"trades,omitempty"`
}

type PairDepth struct {
	Symbol string       `json:"symbol"`
	Lmp    uint64       `json:"lmp"`
	Bids   []LevelState `json:"bids"`
	Asks   []LevelState `json:"asks"`
}

type TradeEntry struct {
	Symbol string `json:"symbol"`
	Price  uint64 `json:"price"`
	Amount string `json:"amount"`
	IsBid  bool   `json:"isBid"`
}

// DepthFeed pushes book depth and recent trades to websocket
// subscribers on a fixed interval. It observes trades through the
// engine's listener seam; buffered trades flush with the next frame.
type DepthFeed struct {
	NopListener

	server *RPCServer
	levels int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]bool
	trades []TradeEntry
}

func NewDepthFeed(server *RPCServer, levels int) *DepthFeed {
	return &DepthFeed{
		server: server,
		levels: levels,
		conns:  make(map[*websocket.Conn]bool),
	}
}

// OnOrderMatched buffers the trade for the next frame.
func (f *DepthFeed) OnOrderMatched(e OrderMatched) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trades) >= tradeBufferSize {
		f.trades = f.trades[1:]
	}
	book := f.server.engine.Registry().GetByID(e.Orderbook)
	symbol := ""
	if book != nil {
		symbol = f.server.tokens.Symbol(book.Base()) + "/" + f.server.tokens.Symbol(book.Quote())
	}
	f.trades = append(f.trades, TradeEntry{
		Symbol: symbol,
		Price:  e.Price,
		Amount: e.Amount.Dec(),
		IsBid:  e.IsBid,
	})
}

// Handler upgrades subscribers. Incoming messages are drained and
// ignored; the feed is push-only.
func (f *DepthFeed) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "err", err)
			return
		}
		f.mu.Lock()
		f.conns[conn] = true
		f.mu.Unlock()
		log.Info("depth subscriber connected", "remote", conn.RemoteAddr())

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					f.drop(conn)
					return
				}
			}
		}()
	}
}

func (f *DepthFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conns[conn] {
		delete(f.conns, conn)
		conn.Close()
	}
	f.mu.Unlock()
}

// Run pushes frames until stop closes.
func (f *DepthFeed) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.push()
		}
	}
}

func (f *DepthFeed) push() {
	update := f.snapshot()
	if len(update.Pairs) == 0 && len(update.Trades) == 0 {
		return
	}

	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(update); err != nil {
			log.Warn("depth push failed, dropping subscriber", "remote", c.RemoteAddr(), "err", err)
			f.drop(c)
		}
	}
}

func (f *DepthFeed) snapshot() DepthUpdate {
	f.server.mu.Lock()
	reg := f.server.engine.Registry()
	update := DepthUpdate{Type: "depth"}
	for _, book := range reg.Enumerate(1, uint64(reg.Len())+1) {
		pd := PairDepth{
			Symbol: f.server.tokens.Symbol(book.Base()) + "/" + f.server.tokens.Symbol(book.Quote()),
			Lmp:    book.Lmp(),
		}
		for _, lvl := range book.Depth(true, f.levels) {
			pd.Bids = append(pd.Bids, LevelState{Price: lvl.Price, Amount: lvl.Amount.Dec(), Count: lvl.Count})
		}
		for _, lvl := range book.Depth(false, f.levels) {
			pd.Asks = append(pd.Asks, LevelState{Price: lvl.Price, Amount: lvl.Amount.Dec(), Count: lvl.Count})
		}
		update.Pairs = append(update.Pairs, pd)
	}
	f.server.mu.Unlock()

	f.mu.Lock()
	update.Trades = f.trades
	f.trades = nil
	f.mu.Unlock()
	return update
}
