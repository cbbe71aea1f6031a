package main

import (
	"flag"
	"fmt"
	"math/rand"
	"strings"

	"github.com/standardweb3/safex/pkg/orderbook"
)

func main() {
	ms := flag.String("markets", "ALPHA_BETA,GAMMA_BETA,GAMMA_ALPHA", "comma separated market list")
	seed := flag.Int64("seed", 0, "the seed used for the random order generation process")
	count := flag.Int("count", 100000, "order count")
	flag.Parse()
	markets := strings.Split(*ms, ",")

	rand.Seed(*seed)

	for i := 0; i < *count; i++ {
		m := markets[rand.Intn(len(markets))]
		sell := rand.Intn(2) == 0
		var side string
		if sell {
			side = "sell"
		} else {
			side = "buy"
		}
		maker := rand.Intn(2) == 0

		// price between 1.00 and 50.00, 8 decimal fixed point
		price := uint64(rand.Intn(4900)+100) * orderbook.PricePrecision / 100
		// deposit between 1 and 10 tokens at 18 decimals
		quant := uint64(rand.Intn(10)+1) * 1_000_000_000_000_000_000
		fmt.Printf("%s,%s,%d,%d,%t\n", m, side, price, quant, maker)
	}
}
