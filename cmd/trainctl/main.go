package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/client"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/rpc/api"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type env struct {
	ctx     context.Context
	backend *client.HTTP
}

func newEnv(c *cli.Context) (*env, error) {
	level := zap.WarnLevel
	if c.GlobalBool("debug") {
		level = zap.DebugLevel
	}
	ctx := logging.NewContext(context.Background(), logging.New(level, "", false))
	cfg := client.DefaultHTTPConfig()
	cfg.RetryMax = c.GlobalInt("retries")
	backend, err := client.NewHTTP(ctx, c.GlobalString("api"), cfg)
	if err != nil {
		return nil, err
	}
	return &env{ctx: ctx, backend: backend}, nil
}

func (e *env) client(c *cli.Context) (*client.Client, error) {
	key := c.GlobalString("key")
	if key == "" {
		return nil, fmt.Errorf("a private key is needed, use --key or TRAINCTL_KEY")
	}
	signer, err := signing.KeySignerFromHex(key)
	if err != nil {
		return nil, err
	}
	return client.New(e.ctx, e.backend, signer)
}

func argIdentity(c *cli.Context, i int) (types.Identity, error) {
	return types.ParseIdentity(c.Args().Get(i))
}

func argRun(c *cli.Context, i int) (types.RunID, error) {
	return types.ParseRunID(c.Args().Get(i))
}

func argAmount(c *cli.Context, i int) (uint64, error) {
	v, err := strconv.ParseUint(c.Args().Get(i), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", types.ErrInvalidArgument, c.Args().Get(i))
	}
	return v, nil
}

// query wraps a read only command.
func query(fn func(e *env, c *cli.Context) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c)
		if err != nil {
			return err
		}
		v, err := fn(e, c)
		if err != nil {
			return err
		}
		return printJSON(v)
	}
}

// tx wraps a command that signs and executes a call, printing the receipt.
func tx(build func(c *cli.Context) (signing.Call, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		call, err := build(c)
		if err != nil {
			return err
		}
		e, err := newEnv(c)
		if err != nil {
			return err
		}
		cl, err := e.client(c)
		if err != nil {
			return err
		}
		receipt, err := cl.Execute(e.ctx, call)
		if receipt != nil {
			if perr := printJSON(api.IntoReceipt(receipt)); perr != nil {
				return perr
			}
		}
		return err
	}
}

func targetCall(method signing.Method) cli.ActionFunc {
	return tx(func(c *cli.Context) (signing.Call, error) {
		id, err := argIdentity(c, 0)
		return signing.Call{Method: method, Target: id}, err
	})
}

func roleCall(method signing.Method) cli.ActionFunc {
	return tx(func(c *cli.Context) (signing.Call, error) {
		id, err := argIdentity(c, 0)
		if err != nil {
			return signing.Call{}, err
		}
		role, err := types.ParseRole(c.Args().Get(1))
		return signing.Call{Method: method, Target: id, Role: role}, err
	})
}

func targetAmountCall(method signing.Method) cli.ActionFunc {
	return tx(func(c *cli.Context) (signing.Call, error) {
		id, err := argIdentity(c, 0)
		if err != nil {
			return signing.Call{}, err
		}
		amount, err := argAmount(c, 1)
		return signing.Call{Method: method, Target: id, Amount: amount}, err
	})
}

func amountCall(method signing.Method) cli.ActionFunc {
	return tx(func(c *cli.Context) (signing.Call, error) {
		amount, err := argAmount(c, 0)
		return signing.Call{Method: method, Amount: amount}, err
	})
}

func runCall(method signing.Method) cli.ActionFunc {
	return tx(func(c *cli.Context) (signing.Call, error) {
		id, err := argRun(c, 0)
		return signing.Call{Method: method, Run: id}, err
	})
}

// attest simulates a training loop, attesting on the configured cadence.
func attest(c *cli.Context) error {
	id, err := argRun(c, 0)
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	cl, err := e.client(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(e.ctx, os.Interrupt)
	defer stop()

	node := client.ComputeNode{Client: cl}
	gen := attestation.NewRandomGenerator(c.Int("length"))
	attestor := client.NewAttestor(node, id, gen, attestation.Cadence{Every: c.Uint64("every")})

	iterations := make(chan uint64)
	go func() {
		defer close(iterations)
		for i := uint64(1); i <= c.Uint64("iterations"); i++ {
			select {
			case iterations <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	sent, err := attestor.Run(ctx, iterations)
	fmt.Printf("submitted %d attestations to run %d\n", sent, id)
	return err
}

func main() {
	app := cli.NewApp()
	app.Name = "trainctl"
	app.Usage = "drive training runs on a trainmgr ledger"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "api", Value: "http://localhost:8545", Usage: "ledger API address", EnvVar: "TRAINCTL_API"},
		cli.StringFlag{Name: "key", Usage: "hex encoded private key signing transactions", EnvVar: "TRAINCTL_KEY"},
		cli.IntFlag{Name: "retries", Value: client.DefaultHTTPConfig().RetryMax, Usage: "HTTP retries on unavailable API"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logs"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "keygen",
			Usage: "generate a private key and print its identity",
			Action: func(c *cli.Context) error {
				key, err := signing.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Printf("private key: %s\n", key.Hex())
				fmt.Printf("identity: %s\n", key.Identity())
				return nil
			},
		},
		{
			Name:  "info",
			Usage: "show chain id, head and admin",
			Action: query(func(e *env, c *cli.Context) (any, error) {
				return e.backend.Info(e.ctx)
			}),
		},
		{
			Name:  "query",
			Usage: "read the contract state",
			Subcommands: []cli.Command{
				{
					Name:      "run",
					ArgsUsage: "RUN",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := argRun(c, 0)
						if err != nil {
							return nil, err
						}
						run, err := e.backend.TrainingRun(e.ctx, id)
						if err != nil {
							return nil, err
						}
						return api.IntoRun(run), nil
					}),
				},
				{
					Name:  "latest",
					Usage: "id of the most recently registered run",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := e.backend.LatestRunID(e.ctx)
						return &api.LatestRun{ID: id}, err
					}),
				},
				{
					Name:      "nodes",
					ArgsUsage: "RUN",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := argRun(c, 0)
						if err != nil {
							return nil, err
						}
						members, err := e.backend.ComputeNodes(e.ctx, id)
						if err != nil {
							return nil, err
						}
						return api.IntoMembers(id, members), nil
					}),
				},
				{
					Name:      "attestations",
					ArgsUsage: "RUN NODE",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := argRun(c, 0)
						if err != nil {
							return nil, err
						}
						node, err := argIdentity(c, 1)
						if err != nil {
							return nil, err
						}
						atts, err := e.backend.Attestations(e.ctx, id, node)
						if err != nil {
							return nil, err
						}
						return api.IntoAttestations(id, node, atts), nil
					}),
				},
				{
					Name:      "settlement",
					ArgsUsage: "RUN",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := argRun(c, 0)
						if err != nil {
							return nil, err
						}
						record, err := e.backend.Settlement(e.ctx, id)
						if err != nil {
							return nil, err
						}
						return api.IntoSettlement(record), nil
					}),
				},
				{
					Name:      "valid",
					ArgsUsage: "NODE",
					Usage:     "whether the node is registered with an active run",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						node, err := argIdentity(c, 0)
						if err != nil {
							return nil, err
						}
						valid, err := e.backend.IsComputeNodeValid(e.ctx, node)
						return &api.NodeValid{Node: node, Valid: valid}, err
					}),
				},
				{
					Name:  "stake-minimum",
					Usage: "smallest stake eligible for rewards",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						minimum, err := e.backend.MinimumStake(e.ctx)
						return &api.Amount{Amount: minimum}, err
					}),
				},
				{
					Name:      "account",
					ArgsUsage: "ADDRESS",
					Usage:     "token balance, stake, roles and whitelist status",
					Action: query(func(e *env, c *cli.Context) (any, error) {
						id, err := argIdentity(c, 0)
						if err != nil {
							return nil, err
						}
						balances, err := e.backend.Account(e.ctx, id)
						if err != nil {
							return nil, err
						}
						return api.IntoAccount(id, balances), nil
					}),
				},
			},
		},
		{
			Name:  "tx",
			Usage: "sign and execute a transaction",
			Subcommands: []cli.Command{
				{Name: "grant", ArgsUsage: "ADDRESS ROLE", Action: roleCall(signing.MethodGrantRole)},
				{Name: "revoke", ArgsUsage: "ADDRESS ROLE", Action: roleCall(signing.MethodRevokeRole)},
				{Name: "whitelist", ArgsUsage: "NODE", Action: targetCall(signing.MethodWhitelist)},
				{Name: "unwhitelist", ArgsUsage: "NODE", Action: targetCall(signing.MethodUnwhitelist)},
				{Name: "mint", ArgsUsage: "ADDRESS AMOUNT", Action: targetAmountCall(signing.MethodMint)},
				{Name: "approve", ArgsUsage: "SPENDER AMOUNT", Action: targetAmountCall(signing.MethodApprove)},
				{Name: "transfer", ArgsUsage: "ADDRESS AMOUNT", Action: targetAmountCall(signing.MethodTransfer)},
				{Name: "slash", ArgsUsage: "NODE AMOUNT", Action: targetAmountCall(signing.MethodSlash)},
				{Name: "deposit", ArgsUsage: "AMOUNT", Usage: "escrow stake, needs an approval of the staking account", Action: amountCall(signing.MethodDeposit)},
				{Name: "withdraw", ArgsUsage: "AMOUNT", Action: amountCall(signing.MethodWithdraw)},
				{
					Name:      "fund-staking",
					ArgsUsage: "AMOUNT",
					Usage:     "approve the staking account to escrow AMOUNT",
					Action: tx(func(c *cli.Context) (signing.Call, error) {
						amount, err := argAmount(c, 0)
						return signing.Call{Method: signing.MethodApprove, Target: types.StakingAccount, Amount: amount}, err
					}),
				},
				{
					Name:      "fund-settlement",
					ArgsUsage: "AMOUNT",
					Usage:     "approve the settlement account to pay out AMOUNT",
					Action: tx(func(c *cli.Context) (signing.Call, error) {
						amount, err := argAmount(c, 0)
						return signing.Call{Method: signing.MethodApprove, Target: types.SettlementAccount, Amount: amount}, err
					}),
				},
				{
					Name:      "register",
					ArgsUsage: "NAME BUDGET",
					Action: tx(func(c *cli.Context) (signing.Call, error) {
						budget, err := argAmount(c, 1)
						return signing.Call{Method: signing.MethodRegisterRun, Name: c.Args().First(), Amount: budget}, err
					}),
				},
				{
					Name:      "join",
					ArgsUsage: "RUN IP",
					Action: tx(func(c *cli.Context) (signing.Call, error) {
						id, err := argRun(c, 0)
						return signing.Call{Method: signing.MethodJoinRun, Run: id, IP: c.Args().Get(1)}, err
					}),
				},
				{Name: "start", ArgsUsage: "RUN", Action: runCall(signing.MethodStartRun)},
				{Name: "end", ArgsUsage: "RUN", Action: runCall(signing.MethodEndRun)},
				{Name: "settle", ArgsUsage: "RUN", Action: runCall(signing.MethodSettle)},
				{
					Name:      "attest",
					ArgsUsage: "RUN",
					Usage:     "simulate training iterations and attest on the cadence",
					Flags: []cli.Flag{
						cli.Uint64Flag{Name: "iterations", Value: 5000},
						cli.Uint64Flag{Name: "every", Value: attestation.DefaultCadence},
						cli.IntFlag{Name: "length", Value: attestation.DefaultPayloadLength},
					},
					Action: attest,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
