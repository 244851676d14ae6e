package cmd

import (
	"fmt"

	"github.com/pilab-dev/shadow-idp/internal/auth"
	"github.com/spf13/cobra"
)

var hashCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash of a user password or client secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.NewBcryptPasswordHasher(hashCost).Hash(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", 0, "bcrypt cost (default bcrypt.DefaultCost)")
}
