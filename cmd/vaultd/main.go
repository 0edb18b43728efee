package main

import (
	"fmt"
	"os"

	"dappvault/engine/actors"
	"github.com/spf13/viper"
)

func main() {
	conf := viper.New()
	actors.InitConfig(conf)
	if err := RootCommand(conf).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
