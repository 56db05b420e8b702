package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/picoimu/pkg/config"
)

// configureLogger applies --log-level to cfg and builds the logger. An empty
// flag keeps cfg.LogLevel.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg.NewLogger(), nil
}
