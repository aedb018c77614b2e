package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName   string
		Env       string // DEV (default) | TEST | QA | PROD
		Debug     bool
		TestMode  bool
		Build     string
		SecretKey string

		FromEmailName    string
		FromEmailAddress string
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Broker   BrokerConfig
		Payment  PaymentConfig
		CheckIn  CheckInConfig
	}

	ServerConfig struct {
		Host                      string
		Addr                      string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	BrokerConfig struct {
		URL      string
		Exchange string
		Queue    string
	}

	PaymentConfig struct {
		MPesaBaseURL    string
		AirtelBaseURL   string
		TigoPesaBaseURL string
		CallbackURL     string
		StripeKey       string
	}

	CheckInConfig struct {
		// GraceWindow is how long before an exam's start time check-in opens.
		GraceWindow time.Duration
		// CutoffGrace extends check-in past the exam's end time.
		CutoffGrace time.Duration
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.FromEmailName, Address: c.FromEmailAddress}
}

// NewConfig loads configuration from the environment, with an optional
// config/.env.<env> dotenv file for local development.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "ICUE Varsity")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "v@rs1ty-c0llege-t1cket!ng-s3cret-key-change-me")
	conf.SetDefault("fromEmailName", "ICUE Varsity College")
	conf.SetDefault("fromEmailAddress", "noreply@localhost")
	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddr", ":8000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbName", "varsity")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbDisableTLS", true)
	conf.SetDefault("brokerExchange", "varsity")
	conf.SetDefault("brokerQueue", "checkin-events")
	conf.SetDefault("paymentCallbackURL", "http://localhost:8000/v1/payments/callback")
	conf.SetDefault("checkinGraceWindow", time.Hour)
	conf.SetDefault("checkinCutoffGrace", time.Duration(0))

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Debug:            conf.GetBool("debug"),
		TestMode:         env == "TEST",
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secretKey"),
		FromEmailName:    conf.GetString("fromEmailName"),
		FromEmailAddress: conf.GetString("fromEmailAddress"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Addr:                      conf.GetString("serverAddr"),
			ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("dbEngine"),
			Name:          conf.GetString("dbName"),
			Host:          conf.GetString("dbHost"),
			Port:          conf.GetString("dbPort"),
			User:          conf.GetString("dbUser"),
			Password:      conf.GetString("dbPassword"),
			AdminUser:     conf.GetString("dbAdminUser"),
			AdminPassword: conf.GetString("dbAdminPassword"),
			DisableTLS:    conf.GetBool("dbDisableTLS"),
		},
		Broker: BrokerConfig{
			URL:      conf.GetString("brokerURL"),
			Exchange: conf.GetString("brokerExchange"),
			Queue:    conf.GetString("brokerQueue"),
		},
		Payment: PaymentConfig{
			MPesaBaseURL:    conf.GetString("mpesaBaseURL"),
			AirtelBaseURL:   conf.GetString("airtelBaseURL"),
			TigoPesaBaseURL: conf.GetString("tigopesaBaseURL"),
			CallbackURL:     conf.GetString("paymentCallbackURL"),
			StripeKey:       conf.GetString("stripeKey"),
		},
		CheckIn: CheckInConfig{
			GraceWindow: conf.GetDuration("checkinGraceWindow"),
			CutoffGrace: conf.GetDuration("checkinCutoffGrace"),
		},
	}
}
