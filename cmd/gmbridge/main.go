// The gmbridge command bundles the host's companion tools, chiefly for
// inspecting the sessions recorded by a gmbridged host.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gmbridge",
		Short: "Gamemode bridge host tools",
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the host config/data directory")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSummarizeCmd)
	sessionsCmd.AddCommand(sessionsCompactCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}
