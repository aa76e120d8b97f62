package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	PingInterval    time.Duration `mapstructure:"pingInterval"`
	PingTimeout     time.Duration `mapstructure:"pingTimeout"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
	SendBuffer      int           `mapstructure:"sendBuffer"`
}
