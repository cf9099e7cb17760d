package utils

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host                    string `mapstructure:"HOST"`
	Port                    int    `mapstructure:"PORT"`
	SecureChannelLifetimeMs uint32 `mapstructure:"SECURE_CHANNEL_LIFETIME_MS"`
	MaxChunkCount           uint32 `mapstructure:"MAX_CHUNK_COUNT"`
	MaxMessageSize          uint32 `mapstructure:"MAX_MESSAGE_SIZE"`
	ReceiveBufferSize       uint32 `mapstructure:"RECEIVE_BUFFER_SIZE"`
	SendBufferSize          uint32 `mapstructure:"SEND_BUFFER_SIZE"`
	MaxWorkerThreads        int    `mapstructure:"MAX_WORKER_THREADS"`
	CertFile                string `mapstructure:"CERT_FILE"`
	KeyFile                 string `mapstructure:"KEY_FILE"`
}

// GetConfig reads the config file, falling back to defaults when none is
// found.
func GetConfig() Config {
	v := viper.New()
	var config Config

	v.SetConfigName("config")    // name of config file (without extension)
	v.SetConfigType("json")      // REQUIRED if the config file does not have the extension in the name
	v.AddConfigPath("./configs") // look for config in ./configs under the working directory

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found! using default configs..")
			setDefault(v)
		} else {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode into struct %w", err))
	}

	return config
}

func setDefault(v *viper.Viper) {
	v.SetDefault("HOST", "localhost")
	v.SetDefault("PORT", 4840)
	v.SetDefault("SECURE_CHANNEL_LIFETIME_MS", 300000)
	v.SetDefault("MAX_CHUNK_COUNT", 4096)
	v.SetDefault("MAX_MESSAGE_SIZE", 16777216)
	v.SetDefault("RECEIVE_BUFFER_SIZE", 65535)
	v.SetDefault("SEND_BUFFER_SIZE", 65535)
	v.SetDefault("MAX_WORKER_THREADS", 4)
	v.SetDefault("CERT_FILE", "./pki/server.crt")
	v.SetDefault("KEY_FILE", "./pki/server.key")
}
