package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Market   Market   `mapstructure:"market"`
	Logger   Logger   `mapstructure:"logger"`
	Client   Client   `mapstructure:"client"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port            int     `mapstructure:"port"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Market holds the configuration for the simulated market.
type Market struct {
	InitialCash   string         `mapstructure:"initial_cash"`
	Precision     int            `mapstructure:"precision"`
	TickInterval  int            `mapstructure:"tick_interval"`
	MinMultiplier float64        `mapstructure:"min_multiplier"`
	MaxMultiplier float64        `mapstructure:"max_multiplier"`
	Currencies    []CurrencySeed `mapstructure:"currencies"`
}

// CurrencySeed describes a currency created when the market is first initialized.
type CurrencySeed struct {
	Symbol    string `mapstructure:"symbol"`
	SellPrice string `mapstructure:"sell_price"`
	BuyPrice  string `mapstructure:"buy_price"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Client holds the configuration for the API client used by the CLI.
type Client struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// DefaultCurrencies is the market created on a fresh database.
var DefaultCurrencies = []CurrencySeed{
	{Symbol: "btc", SellPrice: "10", BuyPrice: "12"},
	{Symbol: "eth", SellPrice: "20", BuyPrice: "22"},
	{Symbol: "xpr", SellPrice: "30", BuyPrice: "32"},
	{Symbol: "trx", SellPrice: "40", BuyPrice: "42"},
	{Symbol: "ltc", SellPrice: "50", BuyPrice: "52"},
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	if len(config.Market.Currencies) == 0 {
		config.Market.Currencies = append([]CurrencySeed(nil), DefaultCurrencies...)
	}

	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50) // requests per second
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.shutdown_timeout", 5)

	v.SetDefault("database.dsn", "exchange.sqlite")
	v.SetDefault("database.max_open_conns", 1) // sqlite has a single writer

	v.SetDefault("market.initial_cash", "1000")
	v.SetDefault("market.precision", 5)
	v.SetDefault("market.tick_interval", 10)
	v.SetDefault("market.min_multiplier", 0.9)
	v.SetDefault("market.max_multiplier", 1.1)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.rate_limit", 20)
	v.SetDefault("client.rate_limit_burst", 5)
}
