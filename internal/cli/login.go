package cli

import (
	"fmt"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/chatpad-dev/chatpad/sdk/chatclient"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the model provider",
	Long: `Authenticate using the OAuth device flow.

You will be shown a URL and a short code. Open the URL (in a browser on
any device), enter the code, and approve access. The command polls until
approval, then stores the credential for future use. Press Ctrl+C to
cancel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		_, client, err := bootstrap(cmd)
		if err != nil {
			return err
		}

		callbacks := chatclient.DeviceFlowCallbacks{
			OnVerification: func(uri, uriComplete, userCode string) {
				fmt.Printf("\nTo authenticate, visit:\n\n  %s\n\nand enter the code: %s\n\n", uri, userCode)
				if !noBrowser && uriComplete != "" {
					if err := open.Run(uriComplete); err != nil {
						fmt.Println("Could not open a browser automatically; use the URL above.")
					}
				}
				fmt.Println("Waiting for approval...")
			},
			OnPending: func() {
				fmt.Print(".")
			},
		}

		cred, err := client.StartDeviceFlow(cmd.Context(), callbacks)
		if err != nil {
			return err
		}
		fmt.Printf("\nLogin successful. Token expires at %s.\n", cred.ExpiresAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	loginCmd.Flags().Bool("no-browser", false, "do not open the verification URL in a browser")
	RootCmd.AddCommand(loginCmd)
}
