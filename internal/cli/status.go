package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if !client.IsAuthenticated() {
			fmt.Println("Not authenticated. Run `chatpad login`.")
			return nil
		}
		fmt.Println("Authenticated.")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
