// Package config loads viper configuration exactly the way the CLI's root
// command always has: a --config flag override, or a dotfile in $HOME,
// overlaid with environment variables.
package config

import (
	"fmt"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const defaultConfigName = ".sigmastream"

// Load wires viper's search path. An explicit path from --config wins;
// otherwise the home directory is searched for defaultConfigName. Missing
// config files are not an error; a config file is only reported when one
// was actually found.
func Load(explicitPath string) error {
	if explicitPath != "" {
		viper.SetConfigFile(explicitPath)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(defaultConfigName)
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
	return nil
}
