package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/rpc"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dave/stablegob"
	"github.com/grd/stat"

	"github.com/standardweb3/safex/pkg/safex"
)

func getTokens(client *rpc.Client) (map[string]string, error) {
	var tokens safex.TokenState
	err := client.Call("ExchangeService.Tokens", 0, &tokens)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]string)
	for _, t := range tokens.Tokens {
		bySymbol[strings.ToLower(t.Symbol)] = t.Addr.Hex()
	}
	return bySymbol, nil
}

func faucet(client *rpc.Client, token, owner, amount string) error {
	var r safex.BalanceReply
	return client.Call("ExchangeService.Faucet", safex.FaucetArgs{
		Token: token, Owner: owner, Amount: amount,
	}, &r)
}

// journalEntry records one accepted order for deterministic replay
// comparison across runs.
type journalEntry struct {
	Market    string
	IsBid     bool
	Price     uint64
	Amount    string
	MakePrice uint64
	Matched   string
	Placed    string
	OrderID   uint32
}

func main() {
	orderPath := flag.String("order", "", "path to the order file to replay")
	addr := flag.String("addr", ":12001", "node's exchange RPC endpoint")
	sender := flag.String("sender", "0xbe41a7e1", "account the orders are placed from")
	journalPath := flag.String("journal", "", "path to write the accepted order journal to")
	flag.Parse()

	client, err := rpc.DialHTTP("tcp", *addr)
	if err != nil {
		panic(err)
	}

	tokens, err := getTokens(client)
	if err != nil {
		panic(err)
	}

	var journal *stablegob.Encoder
	if *journalPath != "" {
		jf, err := os.Create(*journalPath)
		if err != nil {
			panic(err)
		}
		defer jf.Close()
		w := bufio.NewWriter(jf)
		defer w.Flush()
		journal = stablegob.NewEncoder(w)
	}

	f, err := os.Open(*orderPath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	funded := make(map[string]bool)
	var latencies stat.Float64Slice
	accepted, rejected := 0, 0

	s := bufio.NewScanner(f)
	for s.Scan() {
		ss := strings.Split(s.Text(), ",")
		if len(ss) != 5 {
			panic(fmt.Errorf("bad order line: %s, want MARKET,side,price,amount,maker", s.Text()))
		}

		market := ss[0]
		ms := strings.Split(market, "_")
		if len(ms) != 2 {
			panic(fmt.Errorf("unknown market format: %s, should be BASE_QUOTE, e.g., ALPHA_BETA", market))
		}
		base, ok := tokens[strings.ToLower(ms[0])]
		if !ok {
			panic(fmt.Errorf("unknown token: %s", ms[0]))
		}
		quote, ok := tokens[strings.ToLower(ms[1])]
		if !ok {
			panic(fmt.Errorf("unknown token: %s", ms[1]))
		}

		var isBid bool
		switch ss[1] {
		case "buy":
			isBid = true
		case "sell":
			isBid = false
		default:
			panic(fmt.Errorf("unknown side: %s", ss[1]))
		}

		price, err := strconv.ParseUint(ss[2], 10, 64)
		if err != nil {
			panic(err)
		}
		amount := ss[3]
		maker := ss[4] == "true"

		// keep the sender funded in the deposit asset
		give := quote
		if !isBid {
			give = base
		}
		if !funded[give] {
			// enough for the whole run
			err = faucet(client, give, *sender, "1000000000000000000000000000")
			if err != nil {
				panic(err)
			}
			funded[give] = true
		}

		args := safex.PlaceArgs{
			Sender:  *sender,
			Base:    base,
			Quote:   quote,
			IsBid:   isBid,
			Price:   price,
			Amount:  amount,
			IsMaker: maker,
			N:       safex.MaxMatches,
		}

		var r safex.PlaceReply
		start := time.Now()
		err = client.Call("ExchangeService.PlaceLimit", args, &r)
		latencies = append(latencies, float64(time.Since(start).Microseconds()))
		if err != nil {
			// spread guard and size rejections are expected in a
			// random replay
			rejected++
			continue
		}
		accepted++

		if journal != nil {
			err = journal.Encode(journalEntry{
				Market:    market,
				IsBid:     isBid,
				Price:     price,
				Amount:    amount,
				MakePrice: r.MakePrice,
				Matched:   r.Matched,
				Placed:    r.Placed,
				OrderID:   r.OrderID,
			})
			if err != nil {
				panic(err)
			}
		}
	}
	if s.Err() != nil {
		panic(s.Err())
	}

	fmt.Printf("orders: %d accepted, %d rejected\n", accepted, rejected)
	if latencies.Len() > 0 {
		max, _ := stat.Max(latencies)
		fmt.Printf("latency us: mean %.1f, sd %.1f, max %.0f\n",
			stat.Mean(latencies), stat.Sd(latencies), max)
	}
}
