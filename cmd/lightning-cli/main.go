package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/hashplex/lightningd/localrpc"
)

const defaultRPCHostPort = "http://localhost:8332"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lightning-cli] %v\n", err)
	os.Exit(1)
}

func getClient(ctx *cli.Context) *localrpc.Client {
	return localrpc.NewClient(
		ctx.GlobalString("rpcserver"),
		ctx.GlobalString("rpcuser"),
		ctx.GlobalString("rpcpass"),
	)
}

// actionDecorator wraps a command action and returns its error unchanged;
// printing the error is left to main.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			return err
		}
		return nil
	}
}

var createCommand = cli.Command{
	Name:      "create",
	Category:  "Channels",
	Usage:     "Open a channel with a peer.",
	ArgsUsage: "peer our-amt their-amt fees",
	Action:    actionDecorator(create),
}

func create(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 4 {
		return cli.ShowCommandHelp(ctx, "create")
	}
	our, err := parseAmount(args.Get(1))
	if err != nil {
		return err
	}
	their, err := parseAmount(args.Get(2))
	if err != nil {
		return err
	}
	fees, err := parseAmount(args.Get(3))
	if err != nil {
		return err
	}
	if err := getClient(ctx).Create(args.Get(0), our, their, fees); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

var sendCommand = cli.Command{
	Name:      "send",
	Category:  "Payments",
	Usage:     "Pay a peer, possibly over multiple hops.",
	ArgsUsage: "peer amt",
	Action:    actionDecorator(send),
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 2 {
		return cli.ShowCommandHelp(ctx, "send")
	}
	amt, err := parseAmount(args.Get(1))
	if err != nil {
		return err
	}
	if err := getClient(ctx).Send(args.Get(0), amt); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

var closeCommand = cli.Command{
	Name:      "close",
	Category:  "Channels",
	Usage:     "Cooperatively close a channel with a peer.",
	ArgsUsage: "peer",
	Action:    actionDecorator(closeChannel),
}

func closeChannel(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "close")
	}
	if err := getClient(ctx).Close(args.Get(0)); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

var getBalanceCommand = cli.Command{
	Name:      "getbalance",
	Category:  "Channels",
	Usage:     "Show our and their balance on a channel.",
	ArgsUsage: "peer",
	Action:    actionDecorator(getBalance),
}

func getBalance(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "getbalance")
	}
	our, their, err := getClient(ctx).GetBalance(args.Get(0))
	if err != nil {
		return err
	}
	fmt.Printf("our_balance: %d\ntheir_balance: %d\n", our, their)
	return nil
}

var getCommitmentTransactionsCommand = cli.Command{
	Name:      "getcommitmenttransactions",
	Category:  "Channels",
	Usage:     "List the commitment transactions currently held for a channel.",
	ArgsUsage: "peer",
	Action:    actionDecorator(getCommitmentTransactions),
}

func getCommitmentTransactions(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "getcommitmenttransactions")
	}
	txs, err := getClient(ctx).GetCommitmentTransactions(args.Get(0))
	if err != nil {
		return err
	}
	for _, tx := range txs {
		fmt.Println(tx.Data)
	}
	return nil
}

var aliveCommand = cli.Command{
	Name:     "alive",
	Category: "Utility",
	Usage:    "Check that the daemon is reachable.",
	Action:   actionDecorator(alive),
}

func alive(ctx *cli.Context) error {
	if err := getClient(ctx).Alive(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func parseAmount(s string) (int64, error) {
	var amt int64
	if _, err := fmt.Sscanf(s, "%d", &amt); err != nil {
		return 0, fmt.Errorf("invalid amount %q: %v", s, err)
	}
	return amt, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "lightning-cli"
	app.Usage = "control plane for lightningd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCHostPort,
			Usage: "base URL of lightningd's local control RPC",
		},
		cli.StringFlag{
			Name:  "rpcuser",
			Usage: "username for local control RPC basic auth",
		},
		cli.StringFlag{
			Name:  "rpcpass",
			Usage: "password for local control RPC basic auth",
		},
	}
	app.Commands = []cli.Command{
		createCommand,
		sendCommand,
		closeCommand,
		getBalanceCommand,
		getCommitmentTransactionsCommand,
		aliveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
