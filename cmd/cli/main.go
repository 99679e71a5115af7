package main

import (
	"log"
	"os"

	"github.com/absmach/fedsync/cli"
	"github.com/absmach/fedsync/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defChiefURL        = "http://localhost:7070"
	defTLSVerification = false
	envChiefURL        = "FEDSYNC_CHIEF_URL"
)

func main() {
	var (
		chiefURL        string
		tlsVerification bool
	)

	rootCmd := &cobra.Command{
		Use:   "fedsync-cli",
		Short: "fedsync CLI",
		Long:  `fedsync CLI inspects and operates the chief of a synchronous training run.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			s := sdk.NewSDK(sdk.Config{
				ChiefURL:        chiefURL,
				TLSVerification: tlsVerification,
			})
			cli.SetSDK(s)
		},
	}

	url := defChiefURL
	if v, ok := os.LookupEnv(envChiefURL); ok {
		url = v
	}
	rootCmd.PersistentFlags().StringVarP(&chiefURL, "chief-url", "c", url, "Chief HTTP API URL")
	rootCmd.PersistentFlags().BoolVar(&tlsVerification, "tls-verification", defTLSVerification, "Verify the chief TLS certificate")

	rootCmd.AddCommand(
		cli.NewStatusCmd(),
		cli.NewGlobalStepCmd(),
		cli.NewRosterCmd(),
		cli.NewCheckpointCmd(),
		cli.NewHealthCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
