// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lineseek/config"
	"github.com/cardinalhq/lineseek/internal/largefile"
)

var (
	configFile string
	formatFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lineseek",
	Short: "Random access to lines of large text and gzip files",
	Long: `Index multi-gigabyte log files, plain or gzip compressed, and fetch any
range of lines without reading the file from the start.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "auto", "file format: auto, plain or gzip")
}

// loadConfig reads the application config and the --format flag.
func loadConfig() (*config.Config, largefile.Format, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, largefile.FormatAuto, fmt.Errorf("failed to load config: %w", err)
	}
	format, err := largefile.ParseFormat(formatFlag)
	if err != nil {
		return nil, largefile.FormatAuto, err
	}
	return cfg, format, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
