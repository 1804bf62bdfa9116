package cmd

import (
	sigma "github.com/markuskont/sigmastream"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// sigmaCmd reports load-time statistics for a ruleset without running any
// stream against it, useful for CI checks on a rule bundle.
var sigmaCmd = &cobra.Command{
	Use:   "sigma",
	Short: "Load a ruleset and report parse statistics",
	Run:   inspectRuleset,
}

func inspectRuleset(cmd *cobra.Command, args []string) {
	rs, err := sigma.NewRuleset(sigma.Config{
		Directory:           viper.GetStringSlice("sigma.rules.dir"),
		NoCollapseWS:        viper.GetBool("sigma.no-collapse-ws"),
		ReplaceDuplicateIDs: true,
	})
	if err != nil {
		logrus.Fatal(err)
	}
	s := rs.Snapshot()
	logrus.WithFields(logrus.Fields{
		"total":       s.Total,
		"ok":          s.Ok,
		"failed":      s.Failed,
		"unsupported": s.Unsupported,
	}).Info("ruleset loaded")
}

func init() {
	rootCmd.AddCommand(sigmaCmd)

	sigmaCmd.PersistentFlags().StringSlice("sigma-rules-dir", []string{}, "Directories that contains sigma rules.")
	viper.BindPFlag("sigma.rules.dir", sigmaCmd.PersistentFlags().Lookup("sigma-rules-dir"))

	sigmaCmd.PersistentFlags().Bool("sigma-no-collapse-ws", false, "Disable whitespace collapsing during rule evaluation.")
	viper.BindPFlag("sigma.no-collapse-ws", sigmaCmd.PersistentFlags().Lookup("sigma-no-collapse-ws"))
}
