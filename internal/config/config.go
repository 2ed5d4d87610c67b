package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Gateways    GatewaysConfig    `mapstructure:"gateways"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MarketplaceConfig carries the settlement-pipeline knobs. Fee and VAT rates
// are applied at order-creation time only; changing them never rewrites
// historical totals.
type MarketplaceConfig struct {
	PlatformFeeRate     float64       `mapstructure:"platform_fee_rate"`
	VATRate             float64       `mapstructure:"vat_rate"`
	RequestExpiry       time.Duration `mapstructure:"request_expiry"`
	BidExpiry           time.Duration `mapstructure:"bid_expiry"`
	PaymentDue          time.Duration `mapstructure:"payment_due"`
	OverdueCancelAfter  time.Duration `mapstructure:"overdue_cancel_after"`
	AutoCompleteAfter   time.Duration `mapstructure:"auto_complete_after"`
	InvoiceDue          time.Duration `mapstructure:"invoice_due"`
	InvoiceCancelAfter  time.Duration `mapstructure:"invoice_cancel_after"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	ThreeDSAmountFloor  float64       `mapstructure:"three_ds_amount_floor"`
	ThreeDSRiskFloor    float64       `mapstructure:"three_ds_risk_floor"`
}

type GatewaysConfig struct {
	Payment      PaymentGatewayConfig `mapstructure:"payment"`
	Zatca        EndpointConfig       `mapstructure:"zatca"`
	Notification EndpointConfig       `mapstructure:"notification"`
	Directory    EndpointConfig       `mapstructure:"directory"`
}

type PaymentGatewayConfig struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type EndpointConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults plus environment variables apply.
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")

	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("marketplace.platform_fee_rate", 0.05)
	v.SetDefault("marketplace.vat_rate", 0.15)
	v.SetDefault("marketplace.request_expiry", "168h")
	v.SetDefault("marketplace.bid_expiry", "72h")
	v.SetDefault("marketplace.payment_due", "72h")
	v.SetDefault("marketplace.overdue_cancel_after", "168h")
	v.SetDefault("marketplace.auto_complete_after", "72h")
	v.SetDefault("marketplace.invoice_due", "72h")
	v.SetDefault("marketplace.invoice_cancel_after", "720h")
	v.SetDefault("marketplace.sweep_interval", "5m")
	v.SetDefault("marketplace.three_ds_amount_floor", 1000)
	v.SetDefault("marketplace.three_ds_risk_floor", 0.5)

	v.SetDefault("gateways.payment.provider", "moyasar")
	v.SetDefault("gateways.payment.timeout", "15s")
	v.SetDefault("gateways.zatca.timeout", "20s")
	v.SetDefault("gateways.notification.timeout", "10s")
	v.SetDefault("gateways.directory.timeout", "10s")
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("jwt.secret", "JWT_SECRET")

	v.BindEnv("gateways.payment.provider", "PAYMENT_PROVIDER")
	v.BindEnv("gateways.payment.base_url", "PAYMENT_BASE_URL")
	v.BindEnv("gateways.payment.api_key", "PAYMENT_API_KEY")
	v.BindEnv("gateways.payment.webhook_secret", "PAYMENT_WEBHOOK_SECRET")
	v.BindEnv("gateways.zatca.base_url", "ZATCA_BASE_URL")
	v.BindEnv("gateways.zatca.api_key", "ZATCA_API_KEY")
	v.BindEnv("gateways.notification.base_url", "NOTIFICATION_BASE_URL")
	v.BindEnv("gateways.notification.api_key", "NOTIFICATION_API_KEY")
	v.BindEnv("gateways.directory.base_url", "DIRECTORY_BASE_URL")
	v.BindEnv("gateways.directory.api_key", "DIRECTORY_API_KEY")
}
