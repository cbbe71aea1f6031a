package main

import (
	"fmt"
	"net/rpc"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/standardweb3/safex/pkg/safex"
)

var rpcAddr string

func dial() (*rpc.Client, error) {
	return rpc.DialHTTP("tcp", rpcAddr)
}

func printTokens(c *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var tokens safex.TokenState
	err = client.Call("ExchangeService.Tokens", 0, &tokens)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tSymbol\tAddr\tDecimals\t")
	for _, t := range tokens.Tokens {
		fmt.Fprintf(tw, "\t%s\t%s\t%d\t\n", t.Symbol, t.Addr.Hex(), t.Decimals)
	}
	return tw.Flush()
}

func printPairs(c *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var pairs safex.PairState
	err = client.Call("ExchangeService.Pairs", 0, &pairs)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tID\tPair\tMktPrice\t")
	for _, p := range pairs.Pairs {
		fmt.Fprintf(tw, "\t%d\t%s\t%d\t\n", p.ID, p.Symbol, p.MktPrice)
	}
	return tw.Flush()
}

func printBalance(c *cli.Context) error {
	owner := c.Args().Get(0)
	token := c.Args().Get(1)
	if owner == "" || token == "" {
		return fmt.Errorf("usage: balance <owner> <token>")
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var r safex.BalanceReply
	err = client.Call("ExchangeService.Balance", safex.BalanceArgs{Owner: owner, Token: token}, &r)
	if err != nil {
		return err
	}

	fmt.Println(r.Amount)
	return nil
}

func printBook(c *cli.Context) error {
	base := c.Args().Get(0)
	quote := c.Args().Get(1)
	if base == "" || quote == "" {
		return fmt.Errorf("usage: book <base> <quote>")
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var r safex.BookReply
	err = client.Call("ExchangeService.Book", safex.BookArgs{Base: base, Quote: quote, Depth: c.Int("depth")}, &r)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "\tSide\tPrice\tAmount\tOrders\t")
	for i := len(r.Asks) - 1; i >= 0; i-- {
		lvl := r.Asks[i]
		fmt.Fprintf(tw, "\task\t%d\t%s\t%d\t\n", lvl.Price, lvl.Amount, lvl.Count)
	}
	for _, lvl := range r.Bids {
		fmt.Fprintf(tw, "\tbid\t%d\t%s\t%d\t\n", lvl.Price, lvl.Amount, lvl.Count)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("last matched price: %d\n", r.Lmp)
	return nil
}

func placeOrder(c *cli.Context, market bool) error {
	args := safex.PlaceArgs{
		Sender:    c.String("sender"),
		Base:      c.String("base"),
		Quote:     c.String("quote"),
		IsBid:     c.String("side") == "buy",
		Amount:    c.String("amount"),
		IsMaker:   c.Bool("maker"),
		N:         uint32(c.Uint("matches")),
		UID:       c.Uint64("uid"),
		Recipient: c.String("recipient"),
	}
	if c.String("side") != "buy" && c.String("side") != "sell" {
		return fmt.Errorf("side must be buy or sell")
	}
	if !market {
		price, err := strconv.ParseUint(c.String("price"), 10, 64)
		if err != nil {
			return fmt.Errorf("bad price: %v", err)
		}
		args.Price = price
	}

	client, err := dial()
	if err != nil {
		return err
	}

	method := "ExchangeService.PlaceLimit"
	if market {
		method = "ExchangeService.PlaceMarket"
	}
	var r safex.PlaceReply
	err = client.Call(method, args, &r)
	if err != nil {
		return err
	}

	fmt.Printf("make price: %d\nmatched: %s\nplaced: %s\norder id: %d\n", r.MakePrice, r.Matched, r.Placed, r.OrderID)
	return nil
}

func cancelOrder(c *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var r safex.CancelReply
	err = client.Call("ExchangeService.Cancel", safex.CancelArgs{
		Sender:  c.String("sender"),
		Base:    c.String("base"),
		Quote:   c.String("quote"),
		IsBid:   c.String("side") == "buy",
		OrderID: uint32(c.Uint("id")),
		UID:     c.Uint64("uid"),
	}, &r)
	if err != nil {
		return err
	}

	fmt.Printf("refunded: %s\n", r.Refunded)
	return nil
}

func faucet(c *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var r safex.BalanceReply
	err = client.Call("ExchangeService.Faucet", safex.FaucetArgs{
		Token:  c.String("token"),
		Owner:  c.String("owner"),
		Amount: c.String("amount"),
	}, &r)
	if err != nil {
		return err
	}

	fmt.Printf("balance: %s\n", r.Amount)
	return nil
}

func main() {
	orderFlags := []cli.Flag{
		cli.StringFlag{Name: "sender", Usage: "sender account address"},
		cli.StringFlag{Name: "base", Usage: "base token address"},
		cli.StringFlag{Name: "quote", Usage: "quote token address"},
		cli.StringFlag{Name: "side", Usage: "buy or sell"},
		cli.StringFlag{Name: "amount", Usage: "deposit amount in native token units"},
		cli.StringFlag{Name: "price", Usage: "limit price, 8 decimal fixed point"},
		cli.BoolFlag{Name: "maker", Usage: "rest the residual on the book"},
		cli.UintFlag{Name: "matches", Value: 20, Usage: "match budget"},
		cli.Uint64Flag{Name: "uid", Usage: "fee tier uid, 0 for anonymous"},
		cli.StringFlag{Name: "recipient", Usage: "recipient address, defaults to sender"},
	}

	app := cli.NewApp()
	app.Name = "safex"
	app.Usage = "SAFEX exchange command line client"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "rpc",
			Value:       ":12001",
			Usage:       "node RPC endpoint",
			Destination: &rpcAddr,
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "tokens",
			Usage:  "list listed tokens",
			Action: printTokens,
		},
		{
			Name:   "pairs",
			Usage:  "list trading pairs",
			Action: printPairs,
		},
		{
			Name:      "balance",
			Usage:     "print an account's token balance",
			ArgsUsage: "<owner> <token>",
			Action:    printBalance,
		},
		{
			Name:      "book",
			Usage:     "print a pair's book depth",
			ArgsUsage: "<base> <quote>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "depth", Value: 20, Usage: "levels per side"},
			},
			Action: printBook,
		},
		{
			Name:   "limit",
			Usage:  "place a limit order",
			Flags:  orderFlags,
			Action: func(c *cli.Context) error { return placeOrder(c, false) },
		},
		{
			Name:   "market",
			Usage:  "place a market order",
			Flags:  orderFlags,
			Action: func(c *cli.Context) error { return placeOrder(c, true) },
		},
		{
			Name:  "cancel",
			Usage: "cancel a resting order",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "sender", Usage: "order owner address"},
				cli.StringFlag{Name: "base", Usage: "base token address"},
				cli.StringFlag{Name: "quote", Usage: "quote token address"},
				cli.StringFlag{Name: "side", Usage: "buy or sell"},
				cli.UintFlag{Name: "id", Usage: "order id"},
				cli.Uint64Flag{Name: "uid", Usage: "fee tier uid"},
			},
			Action: cancelOrder,
		},
		{
			Name:  "faucet",
			Usage: "mint dev balances",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "token", Usage: "token address"},
				cli.StringFlag{Name: "owner", Usage: "recipient address"},
				cli.StringFlag{Name: "amount", Usage: "amount in native token units"},
			},
			Action: faucet,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
