package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gwi.com/chat-ledger/internal/probe"
)

var probeTarget probe.Target

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test a MySQL connection and list its tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeTarget.Password == "" {
			probeTarget.Password = os.Getenv("PROBE_PASSWORD")
		}
		res, err := probe.NewProber(cfg.ProbeTimeout).TestConnection(cmd.Context(), probeTarget)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s: %d tables\n", probeTarget.String(), res.TableCount)
		if len(res.Tables) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(res.Tables, "\n"))
		}
		return nil
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeTarget.Host, "host", "localhost", "database host")
	f.IntVar(&probeTarget.Port, "port", 3306, "database port")
	f.StringVar(&probeTarget.User, "user", "", "database user")
	f.StringVar(&probeTarget.Password, "password", "", "database password (or PROBE_PASSWORD)")
	f.StringVar(&probeTarget.Database, "database", "", "database name")
}
