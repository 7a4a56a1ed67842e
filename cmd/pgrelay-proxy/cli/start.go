package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/daemon"
	daemontypes "github.com/pgrelay-io/pgrelay-proxy/pkg/daemon/types"
)

func StartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "start",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			opts := daemontypes.DaemonOpts{
				BindAddress: v.GetString("bind-address"),
				BindPort:    v.GetInt("bind-port"),

				UpstreamURI:  v.GetString("upstream-uri"),
				DatabaseName: v.GetString("database-name"),

				APIURL:      v.GetString("api-url"),
				Token:       v.GetString("token"),
				Environment: v.GetString("environment"),
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- daemon.Run(ctx, opts)
			}()

			select {
			case <-sigs:
				cancel()
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			fmt.Println("pgrelay-proxy stopped gracefully.")
			return nil
		},
	}

	cmd.Flags().String("bind-address", "0.0.0.0", "address to listen on for downstream clients")
	cmd.Flags().Int("bind-port", 5432, "port to listen on for downstream clients")
	cmd.Flags().String("upstream-uri", "", "connection URI of the upstream PostgreSQL-compatible server")
	cmd.Flags().String("database-name", "", "name of the upstream database, used for schema reporting")
	cmd.Flags().String("api-url", "", "reporting API endpoint (disabled when empty)")
	cmd.Flags().String("token", "", "bearer token for the reporting API")
	cmd.Flags().String("environment", "", "environment label attached to reports")

	cmd.MarkFlagRequired("upstream-uri")

	return cmd
}
