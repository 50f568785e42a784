package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sunset/pkg/sunset"
)

const version = "0.1.0"

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sunset-cli",
	Short: "Drive and inspect brokerage account closures",
	Long: `sunset-cli talks to a running sunset-server to check readiness, start,
resume and inspect account closures, and exports the closure audit trail.

Examples:
  sunset-cli readiness ACCOUNT_ID
  sunset-cli initiate ACCOUNT_ID --relationship REL_ID --confirm
  sunset-cli resume ACCOUNT_ID
  sunset-cli audit export ACCOUNT_ID -o audit.parquet`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := "http://localhost:8080"
	if v := os.Getenv("SUNSET_URL"); v != "" {
		defaultURL = v
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "sunset-server base URL (env SUNSET_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sunset-cli version %s\n", version)
		},
	})
}

func newClient() *sunset.Client {
	return sunset.NewClient(serverURL)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
