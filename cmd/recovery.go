package cmd

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Run payment recovery related commands",
}

var recoveryResetCmd = &cobra.Command{
	Use:   "reset <order-id>",
	Short: "Clear the recovery attempt counter for an order",
	Long:  "Clear the recovery attempt counter for an order after the underlying issue has been resolved. Attempts are never reset automatically.",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		orderID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || orderID == 0 {
			logrus.WithField("order_id", args[0]).Fatal("invalid order id")
		}

		_, orderService, cleanup := mustCreateOrderService()
		defer cleanup()

		if err := orderService.ResetRecovery(context.Background(), orderID); err != nil {
			logrus.WithError(err).WithField("order_id", orderID).Fatal("recovery reset failed")
		}
		logrus.WithField("order_id", orderID).Info("recovery attempts reset")
	},
}

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryResetCmd)
}
