package main

import (
	"github.com/urfave/cli/v2"
)

var paymentAccountFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "account-id",
		Usage: "the id of the payment account settling the counter currency",
	},
	&cli.StringFlag{
		Name:  "holder",
		Usage: "the holder name of the payment account",
	},
	&cli.StringSliceFlag{
		Name:  "detail",
		Usage: "a key=value detail of the payment account, can be repeated",
	},
}

var nodeCmd = cli.Command{
	Name:   "node",
	Usage:  "get the address and the public keys of the node",
	Action: nodeAction,
}

var offersCmd = cli.Command{
	Name:   "offers",
	Usage:  "list the offers placed by the node",
	Action: listOffersAction,
	Subcommands: []*cli.Command{
		{
			Name:  "place",
			Usage: "place a new offer and get the address to fund it with",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "direction",
					Usage:    "BUY or SELL",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "protocol",
					Usage: "Multisig or AtomicSwap",
					Value: "Multisig",
				},
				&cli.StringFlag{
					Name:     "currency",
					Usage:    "the counter currency code",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "payment-method",
					Usage: "the id of the payment method",
				},
				&cli.StringFlag{
					Name:     "price",
					Usage:    "the price of 1 BTC in counter currency",
					Required: true,
				},
				&cli.Uint64Flag{
					Name:     "amount",
					Usage:    "the amount of sats to trade",
					Required: true,
				},
				&cli.Uint64Flag{
					Name:  "min-amount",
					Usage: "the min amount of sats a taker can trade",
				},
				&cli.Uint64Flag{
					Name:  "buyer-deposit",
					Usage: "the security deposit of the buyer in sats",
				},
				&cli.Uint64Flag{
					Name:  "seller-deposit",
					Usage: "the security deposit of the seller in sats",
				},
				&cli.DurationFlag{
					Name:  "max-trade-period",
					Usage: "the max duration of a trade",
				},
			}, paymentAccountFlags...),
			Action: placeOfferAction,
		},
		{
			Name:      "cancel",
			Usage:     "cancel an offer of the node",
			ArgsUsage: "<offer id>",
			Action:    cancelOfferAction,
		},
	},
}

var bookCmd = cli.Command{
	Name:   "book",
	Usage:  "list the offers of other nodes that can be taken",
	Action: bookAction,
	Subcommands: []*cli.Command{
		{
			Name:      "funding",
			Usage:     "get the address to fund before taking an offer",
			ArgsUsage: "<offer id>",
			Action:    fundingAction,
		},
	},
}

func nodeAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/node")
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func listOffersAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/offers")
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func placeOfferAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"direction":             ctx.String("direction"),
		"protocol":              ctx.String("protocol"),
		"currencyCode":          ctx.String("currency"),
		"paymentMethodId":       ctx.String("payment-method"),
		"price":                 ctx.String("price"),
		"amount":                ctx.Uint64("amount"),
		"minAmount":             ctx.Uint64("min-amount"),
		"buyerSecurityDeposit":  ctx.Uint64("buyer-deposit"),
		"sellerSecurityDeposit": ctx.Uint64("seller-deposit"),
	}
	if period := ctx.Duration("max-trade-period"); period > 0 {
		req["maxTradePeriod"] = period.String()
	}
	if account := paymentAccountFromFlags(ctx); account != nil {
		req["paymentAccount"] = account
	}

	resp, err := client.post("/offers", req)
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func cancelOfferAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "cancel"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.delete("/offers/" + ctx.Args().First())
	return err
}

func bookAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/book")
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func fundingAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "funding"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/book/" + ctx.Args().First() + "/funding")
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}
