package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/homedash/internal/api"
	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/banking"
	"github.com/lox/homedash/internal/devices"
	"github.com/lox/homedash/internal/openweather"
	"github.com/lox/homedash/internal/store"
	"github.com/lox/homedash/internal/weather"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to a .env file.'"`
	DB      string                   `help:"Path to SQLite database." default:"data/homedash.db" env:"DB_PATH"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the dashboard API server."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
	User    UserCmd    `cmd:"" help:"Manage dashboard users."`
}

type ServeCmd struct {
	Port        string   `help:"HTTP server port." default:"5000" env:"PORT"`
	CORSOrigins []string `name:"cors-origin" help:"Allowed CORS origins." env:"CORS_ORIGINS"`

	JWTSecret string `name:"jwt-secret" help:"Secret used to sign session tokens." env:"JWT_SECRET"`

	OpenWeatherKey     string        `name:"openweather-key" help:"OpenWeatherMap API key." env:"OPENWEATHER_API_KEY"`
	OpenWeatherLang    string        `name:"openweather-lang" help:"Language for weather descriptions." default:"de" env:"WEATHER_LANG"`
	OpenWeatherRPS     float64       `name:"openweather-rps" help:"Outbound request rate limit (0 disables)." default:"5" env:"OPENWEATHER_RPS"`
	OpenWeatherTimeout time.Duration `name:"openweather-timeout" help:"Timeout per upstream request." default:"10s" env:"OPENWEATHER_TIMEOUT"`

	MQTTBroker   string `name:"mqtt-broker" help:"MQTT broker URL for device commands (empty disables)." env:"MQTT_BROKER"`
	MQTTClientID string `name:"mqtt-client-id" default:"homedash" env:"MQTT_CLIENT_ID"`
	MQTTPrefix   string `name:"mqtt-prefix" default:"homedash/devices" env:"MQTT_TOPIC_PREFIX"`
}

type MigrateCmd struct{}

type UserCmd struct {
	Add UserAddCmd `cmd:"" help:"Create a user."`
}

type UserAddCmd struct {
	Name     string `arg:"" help:"Display name."`
	Email    string `arg:"" help:"Login email."`
	Password string `arg:"" help:"Initial password."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("homedash"),
		kong.Description("Smart home dashboard backend."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func openStore(path string) (*store.Store, func(), error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func (c *MigrateCmd) Run(cli *CLI) error {
	st, closeDB, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	log.Printf("database migrated to version %d", version)
	return nil
}

func (c *UserAddCmd) Run(cli *CLI) error {
	st, closeDB, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	// No tokens are issued from the CLI.
	issuer, err := auth.NewIssuer("cli", 0)
	if err != nil {
		return err
	}
	session, err := auth.NewService(st, issuer).Register(c.Name, c.Email, c.Password)
	if errors.Is(err, auth.ErrUserExists) {
		return fmt.Errorf("user %s already exists", c.Email)
	}
	if err != nil {
		return err
	}
	log.Printf("created user %s (%s)", session.User.Email, session.User.ID)
	return nil
}

func (c *ServeCmd) Run(cli *CLI) error {
	issuer, err := auth.NewIssuer(c.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	if c.OpenWeatherKey == "" {
		log.Println("warning: OPENWEATHER_API_KEY not set, weather endpoints will fail")
	}

	st, closeDB, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()
	if n, err := st.CountUsers(); err == nil {
		log.Printf("database migrated, %d users", n)
	}

	var publisher devices.Publisher
	if c.MQTTBroker != "" {
		mqttPub, err := devices.NewMQTTPublisher(c.MQTTBroker, c.MQTTClientID, c.MQTTPrefix)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer mqttPub.Close()
		publisher = mqttPub
		log.Printf("forwarding device commands to %s", c.MQTTBroker)
	}

	owm := openweather.New(openweather.Config{
		APIKey:  c.OpenWeatherKey,
		Lang:    c.OpenWeatherLang,
		RPS:     c.OpenWeatherRPS,
		Timeout: c.OpenWeatherTimeout,
	})

	authSvc := auth.NewService(st, issuer)
	server := api.NewServer(api.Deps{
		Store:   st,
		Auth:    authSvc,
		Issuer:  issuer,
		Weather: weather.NewService(owm, st),
		Banking: banking.NewService(),
		Devices: devices.NewRegistry(publisher),
	}, c.Port, splitOrigins(c.CORSOrigins))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

// splitOrigins accepts both repeated flags and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, v := range in {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
