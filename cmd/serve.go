package cmd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd mounts a Prometheus metrics endpoint. It exists purely as the
// one piece of HTTP plumbing this module keeps; the detection core itself
// has no HTTP surface.
var serveCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve the Prometheus metrics endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		addr := viper.GetString("sigma.metrics.addr")
		http.Handle("/metrics", promhttp.Handler())
		logrus.Infof("serving metrics on %s/metrics", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logrus.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().String("sigma-metrics-addr", ":9090", "Listen address for the metrics endpoint.")
	viper.BindPFlag("sigma.metrics.addr", serveCmd.PersistentFlags().Lookup("sigma-metrics-addr"))
}
