package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Exchange  ExchangeConfig
	Arbitrage ArbitrageConfig
	Database  DatabaseConfig
	Log       LogConfig
}

// ExchangeConfig defines the exchange connection settings.
type ExchangeConfig struct {
	Name           string
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	WSURL          string        `mapstructure:"ws_url"`
	TickerSource   string        `mapstructure:"ticker_source"`
	RateLimit      float64       `mapstructure:"rate_limit_per_sec"`
	MakerFee       float64       `mapstructure:"maker_fee"`
	TakerFee       float64       `mapstructure:"taker_fee"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ArbitrageConfig defines the arbitrage-related settings.
type ArbitrageConfig struct {
	QuoteCurrencies []string           `mapstructure:"quote_currencies"`
	Currencies      []string           `mapstructure:"currencies"`
	TradingAmounts  map[string]float64 `mapstructure:"trading_amounts"`
	OrderType       string             `mapstructure:"order_type"`
	PaperTrading    bool               `mapstructure:"paper_trading"`
	OrderBookDepth  int                `mapstructure:"order_book_depth"`
	GainMinLimit    float64            `mapstructure:"gain_min_limit"`
	PnLMinLimit     float64            `mapstructure:"pnl_min_limit"`
	LimitRateOffset float64            `mapstructure:"limit_rate_offset"`
	TickersToSkip   int                `mapstructure:"tickers_to_skip"`
	PollingInterval time.Duration      `mapstructure:"polling_interval"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Path     string
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level  string
	Format string
}

var ErrNoQuoteCurrencies = errors.New("config: arbitrage.quote_currencies is empty")

// LoadConfig reads configuration from file or environment variables.
// A .env file next to the config, if present, is loaded into the environment first.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load(filepath.Join(path, ".env"))

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	if len(config.Arbitrage.QuoteCurrencies) == 0 {
		err = ErrNoQuoteCurrencies
		return
	}

	// viper lowercases map keys, currency codes are upper case everywhere else
	amounts := make(map[string]float64, len(config.Arbitrage.TradingAmounts))
	for curr, amount := range config.Arbitrage.TradingAmounts {
		amounts[strings.ToUpper(curr)] = amount
	}
	config.Arbitrage.TradingAmounts = amounts
	return
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.name", "exmo")
	v.SetDefault("exchange.api_url", "https://api.exmo.com/v1.1")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.ws_url", "wss://ws-api.exmo.com:443/v1/public")
	v.SetDefault("exchange.ticker_source", "rest")
	v.SetDefault("exchange.rate_limit_per_sec", 8.0)
	v.SetDefault("exchange.maker_fee", 0.002)
	v.SetDefault("exchange.taker_fee", 0.002)
	v.SetDefault("exchange.request_timeout", 10*time.Second)

	v.SetDefault("arbitrage.quote_currencies", []string{"USD", "EUR", "RUB", "BTC", "ETH", "LTC", "XRP", "USDT", "DASH"})
	v.SetDefault("arbitrage.currencies", []string{})
	v.SetDefault("arbitrage.trading_amounts", map[string]float64{
		"USD": 5.0, "EUR": 5.0, "RUB": 450.0, "BTC": 0.0015, "ETH": 0.03,
		"LTC": 0.2, "XRP": 32.0, "USDT": 5.0, "DASH": 0.125,
	})
	v.SetDefault("arbitrage.order_type", "market")
	v.SetDefault("arbitrage.paper_trading", true)
	v.SetDefault("arbitrage.order_book_depth", 40)
	v.SetDefault("arbitrage.gain_min_limit", 0.0)
	v.SetDefault("arbitrage.pnl_min_limit", 0.5)
	v.SetDefault("arbitrage.limit_rate_offset", 0.0005)
	v.SetDefault("arbitrage.tickers_to_skip", 30)
	v.SetDefault("arbitrage.polling_interval", 2*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "triarb")
	v.SetDefault("database.path", "./db/triarb_data.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
