package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/config"
	"solana-custody-bot/internal/confirm"
)

var (
	cfgFile string
	wait    bool
)

var rootCmd = &cobra.Command{
	Use:   "checktx <TX_SIGNATURE>",
	Short: "Show the status of a transaction",
	Long:  "Show the status of a transaction. With --wait the signature is polled with the bot's confirmation backoff.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewManager(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		rpc := blockchain.NewRPCClient(cfg.GetPrimaryRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetPrimaryAPIKey())

		fmt.Println("📊 TX STATUS CHECKER")
		fmt.Println("===================")
		fmt.Printf("TX: %s\n\n", args[0])

		if wait {
			return poll(cmd.Context(), cfg.GetTransfer(), rpc, args[0])
		}
		return check(cmd.Context(), rpc, args[0])
	},
}

func poll(ctx context.Context, tc config.TransferConfig, rpc *blockchain.RPCClient, sig string) error {
	poller := confirm.NewPoller(tc.PollBaseInterval(), tc.PollAttempts)
	poller.MaxInterval = tc.PollMaxInterval()
	poller.Target = tc.Commitment

	res, err := poller.Poll(ctx, sig, blockchain.StatusLookup(rpc))
	fmt.Printf("Outcome: %s after %d lookups\n", res.Outcome, res.Attempts)
	if err != nil {
		return err
	}
	fmt.Printf("Slot: %d (%s)\n", res.Slot, res.Commitment)
	return nil
}

func check(ctx context.Context, rpc *blockchain.RPCClient, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := rpc.CheckTransaction(ctx, sig)
	if err != nil {
		return fmt.Errorf("RPC error: %w", err)
	}

	fmt.Println(result.String())
	if result.Status == "FAILED" {
		fmt.Println("\n📋 ERROR DETAILS:")
		fmt.Printf("%+v\n", result.ErrorDetails)
		fmt.Println(blockchain.HumanErrorWithAction(errors.New(fmt.Sprint(result.ErrorDetails))))
	}
	return nil
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "config/config.yaml", "config file")
	rootCmd.Flags().BoolVar(&wait, "wait", false, "poll until confirmed, rejected or out of attempts")
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
