package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	relationshipID string
	confirm        bool
	withdrawAmount float64
)

var readinessCmd = &cobra.Command{
	Use:   "readiness <account-id>",
	Short: "Check whether an account can be closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		r, err := newClient().CheckReadiness(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <account-id>",
	Short: "Show the closure status of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := newClient().Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var initiateCmd = &cobra.Command{
	Use:   "initiate <account-id>",
	Short: "Start the automated closure of an account",
	Long: `Cancel open orders, liquidate every position and record the closure
kickoff. The closure is permanent; --confirm is required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm {
			return fmt.Errorf("closing an account is permanent; pass --confirm to proceed")
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := newClient().Initiate(ctx, args[0], relationshipID, true)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <account-id>",
	Short: "Withdraw settled cash over an ACH relationship",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var amount *float64
		if cmd.Flags().Changed("amount") {
			amount = &withdrawAmount
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := newClient().Withdraw(ctx, args[0], relationshipID, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var settlementCmd = &cobra.Command{
	Use:   "settlement <account-id>",
	Short: "Show cash still waiting to settle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := newClient().SettlementStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <account-id> <transfer-id>",
	Short: "Show the state of a withdrawal transfer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := newClient().WithdrawalStatus(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <account-id>",
	Short: "Close an account that holds no assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirm {
			return fmt.Errorf("closing an account is permanent; pass --confirm to proceed")
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := newClient().Close(ctx, args[0], true)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <account-id>",
	Short: "Advance an in-flight closure by one step",
	Long: `Resume inspects the account, works out where the closure stands and
performs at most one step. Safe to run repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := newClient().Resume(ctx, args[0], relationshipID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(readinessCmd, statusCmd, initiateCmd, withdrawCmd,
		settlementCmd, transferCmd, closeCmd, resumeCmd)

	initiateCmd.Flags().StringVarP(&relationshipID, "relationship", "r", "", "ACH relationship ID for the final withdrawal (required)")
	initiateCmd.Flags().BoolVar(&confirm, "confirm", false, "confirm permanent closure")
	initiateCmd.MarkFlagRequired("relationship")

	withdrawCmd.Flags().StringVarP(&relationshipID, "relationship", "r", "", "ACH relationship ID (required)")
	withdrawCmd.Flags().Float64Var(&withdrawAmount, "amount", 0, "amount to withdraw (default: everything withdrawable)")
	withdrawCmd.MarkFlagRequired("relationship")

	closeCmd.Flags().BoolVar(&confirm, "confirm", false, "confirm permanent closure")

	resumeCmd.Flags().StringVarP(&relationshipID, "relationship", "r", "", "ACH relationship ID (default: the one given at initiation)")
}
