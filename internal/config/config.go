package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Supplier is one entry of the SUPPLIERS configuration list.
type Supplier struct {
	Name                 string `json:"name"`
	Contact              string `json:"contact"`
	Channel              string `json:"channel"`
	MinimumOrderQuantity int    `json:"minimum_order_quantity"`
}

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Hub liveness and delivery.
	HubLivenessTimeout  time.Duration `mapstructure:"HUB_LIVENESS_TIMEOUT"`
	HubSweepInterval    time.Duration `mapstructure:"HUB_SWEEP_INTERVAL"`
	HubMaxDeliveryFails int           `mapstructure:"HUB_MAX_DELIVERY_FAILS"`

	// Forecast schedule and windows.
	ForecastInterval    time.Duration `mapstructure:"FORECAST_INTERVAL"`
	ForecastWindowDays  int           `mapstructure:"FORECAST_WINDOW_DAYS"`
	ConsumptionWindow   int           `mapstructure:"CONSUMPTION_WINDOW_DAYS"`
	ForecastRunBudget   time.Duration `mapstructure:"FORECAST_RUN_BUDGET"`
	ProcurementChannel  string        `mapstructure:"PROCUREMENT_CHANNEL"` // "email" or "http"
	SuppliersJSON       string        `mapstructure:"SUPPLIERS"`
	ProcurementFromAddr string        `mapstructure:"PROCUREMENT_FROM_ADDR"`

	// Outbound collaborators.
	AnalysisBaseURL string `mapstructure:"ANALYSIS_BASE_URL"`
	SMTPHost        string `mapstructure:"SMTP_HOST"`
	SMTPPort        int    `mapstructure:"SMTP_PORT"`
	SMTPUser        string `mapstructure:"SMTP_USER"`
	SMTPPassword    string `mapstructure:"SMTP_PASSWORD"`

	// Case alert contact points. Empty disables the channel.
	PatientNotifyEmail string `mapstructure:"PATIENT_NOTIFY_EMAIL"`
	PatientNotifySMS   string `mapstructure:"PATIENT_NOTIFY_SMS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("HUB_LIVENESS_TIMEOUT", "5m")
	v.SetDefault("HUB_SWEEP_INTERVAL", "5m")
	v.SetDefault("HUB_MAX_DELIVERY_FAILS", 3)
	v.SetDefault("FORECAST_INTERVAL", "24h")
	v.SetDefault("FORECAST_WINDOW_DAYS", 7)
	v.SetDefault("CONSUMPTION_WINDOW_DAYS", 30)
	v.SetDefault("FORECAST_RUN_BUDGET", "2m")
	v.SetDefault("PROCUREMENT_CHANNEL", "email")
	v.SetDefault("SMTP_PORT", 587)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("HUB_LIVENESS_TIMEOUT")
	v.BindEnv("HUB_SWEEP_INTERVAL")
	v.BindEnv("HUB_MAX_DELIVERY_FAILS")
	v.BindEnv("FORECAST_INTERVAL")
	v.BindEnv("FORECAST_WINDOW_DAYS")
	v.BindEnv("CONSUMPTION_WINDOW_DAYS")
	v.BindEnv("FORECAST_RUN_BUDGET")
	v.BindEnv("PROCUREMENT_CHANNEL")
	v.BindEnv("SUPPLIERS")
	v.BindEnv("PROCUREMENT_FROM_ADDR")
	v.BindEnv("ANALYSIS_BASE_URL")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_USER")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("PATIENT_NOTIFY_EMAIL")
	v.BindEnv("PATIENT_NOTIFY_SMS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Suppliers decodes the SUPPLIERS JSON list. An empty value yields an empty
// list, not an error.
func (c *Config) Suppliers() ([]Supplier, error) {
	if c.SuppliersJSON == "" {
		return nil, nil
	}
	var suppliers []Supplier
	if err := json.Unmarshal([]byte(c.SuppliersJSON), &suppliers); err != nil {
		return nil, fmt.Errorf("SUPPLIERS is not valid JSON: %w", err)
	}
	return suppliers, nil
}

// Validate checks cross-field constraints before the server starts.
func (c *Config) Validate() error {
	if c.ProcurementChannel != "email" && c.ProcurementChannel != "http" {
		return fmt.Errorf("PROCUREMENT_CHANNEL must be \"email\" or \"http\", got %q", c.ProcurementChannel)
	}
	if c.ProcurementChannel == "email" && c.IsProduction() && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required in production when PROCUREMENT_CHANNEL is \"email\"")
	}
	if c.HubMaxDeliveryFails <= 0 {
		return fmt.Errorf("HUB_MAX_DELIVERY_FAILS must be positive, got %d", c.HubMaxDeliveryFails)
	}
	if c.ForecastWindowDays <= 0 {
		return fmt.Errorf("FORECAST_WINDOW_DAYS must be positive, got %d", c.ForecastWindowDays)
	}
	if _, err := c.Suppliers(); err != nil {
		return err
	}
	return nil
}
