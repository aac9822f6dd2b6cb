// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// DataDir holds everything the client persists: transcript database,
	// settings snapshot, credential file, companion state snapshot.
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// Realtime provider endpoints. Overridable for testing against a stub.
	ProviderBaseURL string `mapstructure:"provider_base_url" validate:"required"`

	// Relay listener for companion devices (websocket hub).
	RelayListenAddr string `mapstructure:"relay_listen_addr" validate:"required"`

	// Microphone capture command (ffmpeg-compatible PCM source).
	CaptureCommand string `mapstructure:"capture_command"`
	CaptureFormat  string `mapstructure:"capture_format"`
	CaptureDevice  string `mapstructure:"capture_device"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "chirp")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("DATA_DIR", defaultDataDir())
	v.SetDefault("PROVIDER_BASE_URL", "https://api.openai.com")
	v.SetDefault("RELAY_LISTEN_ADDR", "127.0.0.1:8390")

	v.SetDefault("CAPTURE_COMMAND", "ffmpeg")
	v.SetDefault("CAPTURE_FORMAT", "pulse")
	v.SetDefault("CAPTURE_DEVICE", "default")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chirp"
	}
	return home + "/.chirp"
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
