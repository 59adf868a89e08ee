package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/urfave/cli/v2"
)

var takeCmd = cli.Command{
	Name:      "take",
	Usage:     "take an offer of the book",
	ArgsUsage: "<offer id>",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:  "amount",
			Usage: "the amount of sats to trade, defaults to the amount of the offer",
		},
	}, paymentAccountFlags...),
	Action: takeAction,
}

var tradesCmd = cli.Command{
	Name:  "trades",
	Usage: "list the trades of the node",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "list",
			Usage: "one of pending, closed, failed, swap",
			Value: "pending",
		},
	},
	Action: listTradesAction,
}

var tradeCmd = cli.Command{
	Name:      "trade",
	Usage:     "get a trade by id",
	ArgsUsage: "<trade id>",
	Action:    tradeAction,
}

var paymentStartedCmd = cli.Command{
	Name:      "paymentstarted",
	Usage:     "notify the seller that the counter currency payment started",
	ArgsUsage: "<trade id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "txid",
			Usage: "the reference of the counter currency transfer",
		},
		&cli.StringFlag{
			Name:  "extra",
			Usage: "extra data about the transfer",
		},
	},
	Action: paymentStartedAction,
}

var paymentReceivedCmd = cli.Command{
	Name:      "paymentreceived",
	Usage:     "confirm the counter currency payment and release the payout",
	ArgsUsage: "<trade id>",
	Action:    paymentReceivedAction,
}

var withdrawCmd = cli.Command{
	Name:      "withdraw",
	Usage:     "send the payout of a completed trade to an external address",
	ArgsUsage: "<trade id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "address",
			Usage: "the receiving address, if omitted funds are kept in the wallet",
		},
	},
	Action: withdrawAction,
}

var failCmd = cli.Command{
	Name:      "fail",
	Usage:     "move a pending trade to the failed list",
	ArgsUsage: "<trade id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "reason",
			Usage: "the reason the trade failed",
		},
	},
	Action: failAction,
}

var unfailCmd = cli.Command{
	Name:      "unfail",
	Usage:     "move a failed trade back to the pending list",
	ArgsUsage: "<trade id>",
	Action:    unfailAction,
}

var disputeCmd = cli.Command{
	Name:      "dispute",
	Usage:     "update the dispute state of a trade",
	ArgsUsage: "<trade id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "state",
			Usage:    "the dispute state, eg. MEDIATION_REQUESTED",
			Required: true,
		},
	},
	Action: disputeAction,
}

var lockedFundsCmd = cli.Command{
	Name:   "lockedfunds",
	Usage:  "list the trades with funds locked in multisig",
	Action: lockedFundsAction,
}

func takeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "take"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"offerId": ctx.Args().First(),
		"amount":  ctx.Uint64("amount"),
	}
	if account := paymentAccountFromFlags(ctx); account != nil {
		req["paymentAccount"] = account
	}

	resp, err := client.post("/trades", req)
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func listTradesAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/trades?list=" + url.QueryEscape(ctx.String("list")))
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func tradeAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "trade", "", nil)
}

func paymentStartedAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "paymentstarted", "/paymentstarted", map[string]string{
		"counterCurrencyTxId": ctx.String("txid"),
		"extraData":           ctx.String("extra"),
	})
}

func paymentReceivedAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "paymentreceived", "/paymentreceived", nil)
}

func withdrawAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "withdraw", "/withdraw", map[string]string{
		"address": ctx.String("address"),
	})
}

func failAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "fail", "/fail", map[string]string{
		"reason": ctx.String("reason"),
	})
}

func unfailAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "unfail", "/unfail", nil)
}

func disputeAction(ctx *cli.Context) error {
	return tradeRequest(ctx, "dispute", "/dispute", map[string]string{
		"state": strings.ToUpper(ctx.String("state")),
	})
}

func lockedFundsAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}
	resp, err := client.get("/lockedfunds")
	printRespJSON(ctx, resp)
	return err
}

// tradeRequest calls the given action of the trade passed as argument. A
// nil body makes a GET of the trade when there's no action.
func tradeRequest(
	ctx *cli.Context, command, action string, body map[string]string,
) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, command}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/trades/%s%s", ctx.Args().First(), action)
	var resp []byte
	if action == "" {
		resp, err = client.get(path)
	} else if body == nil {
		resp, err = client.post(path, nil)
	} else {
		resp, err = client.post(path, body)
	}
	if err != nil {
		return err
	}
	printRespJSON(ctx, resp)
	return nil
}

func paymentAccountFromFlags(ctx *cli.Context) map[string]interface{} {
	if ctx.String("account-id") == "" {
		return nil
	}

	details := make(map[string]string)
	for _, kv := range ctx.StringSlice("detail") {
		k, v, _ := strings.Cut(kv, "=")
		details[k] = v
	}
	return map[string]interface{}{
		"id":              ctx.String("account-id"),
		"paymentMethodId": ctx.String("payment-method"),
		"holderName":      ctx.String("holder"),
		"details":         details,
	}
}
