package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(getConfig())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}
