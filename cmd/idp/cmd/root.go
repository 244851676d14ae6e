package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "idp",
	Short: "idp is an OAuth2 authorization code and OpenID Connect provider",
	Long: `An OAuth2 authorization server issuing PKCE-bound authorization codes and
RS256-signed access and identity tokens.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "idp:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml, $HOME/.shadow-idp/config.yaml or /etc/shadow-idp/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}
