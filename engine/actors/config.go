package actors

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"dappvault/engine/library"
	"github.com/spf13/viper"
)

// InitConfig sets up our Viper config object
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		library.LogCLI(err.Error(), 1)
	}
	config.SetEnvPrefix("VAULT")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	config.SetDefault("rootDir", filepath.Join(homeDir, ".dappvault"))
	config.SetConfigType("yaml")
	config.SetConfigFile(filepath.Join(config.GetString("rootDir"), "config.yaml"))
	// Create our working directory and config file if not exist
	initRootDir(config)
	err = config.ReadInConfig()
	if err != nil {
		library.LogCLI(err.Error(), 4)
	}
	config.SetDefault("vaultDir", filepath.Join(config.GetString("rootDir"), "vault"))
	config.SetDefault("contentDir", filepath.Join(config.GetString("rootDir"), "content"))
	config.SetDefault("appsDir", filepath.Join(config.GetString("rootDir"), "apps"))
	config.SetDefault("relays", []string{})
	config.SetDefault("rpcURL", "")
	config.SetDefault("profileDebounce", 10*time.Second)
	config.SetDefault("confirmationPollInterval", 1500*time.Millisecond)
	config.SetDefault("handshakeAttempts", 3)
	config.SetDefault("logLevel", 4)
	config.SetDefault("metricsAddr", "")
	config.SetDefault("keyringService", "dappvault")
	// age scrypt work factor (log2 N) for the vault passphrase
	config.SetDefault("scryptWorkFactor", 18)
	library.SetLogLevel(config.GetInt("logLevel"))
	if err := library.Touch(config.ConfigFileUsed()); err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	if err := config.WriteConfig(); err != nil {
		library.LogCLI(err.Error(), 2)
	}
}

func initRootDir(conf *viper.Viper) {
	if err := library.CreateDirectoryIfNotExists(conf.GetString("rootDir")); err != nil {
		library.LogCLI(err, 1)
	}
}
