package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markuskont/sigmastream/internal/config"
	"github.com/markuskont/sigmastream/internal/logging"
)

var (
	cfgFile string
	quiet   bool
	debug   bool
)

// rootCmd is the base command for the sigmastream binary.
var rootCmd = &cobra.Command{
	Use:   "sigmastream",
	Short: "Evaluate Sigma detection rules against a live event stream",
	Long: `sigmastream compiles a directory of Sigma rules into a detection
tree and evaluates every incoming event against the full ruleset,
emitting matches to a configurable sink.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		if err := config.Load(cfgFile); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	})
	cobra.OnInitialize(func() {
		logging.Configure(logging.Options{Quiet: quiet, Debug: debug})
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.sigmastream.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Quiet output. Suppress warnings. Takes precedence over --debug.")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"Debug mode. Enable trace logging.")

	rootCmd.PersistentFlags().StringSlice("rules-dir", []string{},
		"Directories that contain sigma rules.")
	viper.BindPFlag("rules.dir", rootCmd.PersistentFlags().Lookup("rules-dir"))
}
