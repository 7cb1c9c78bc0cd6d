// Package config loads shelfshare settings from a YAML file, an optional
// .env file and SHELFSHARE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/shelfshare/internal/cascade"
	"github.com/roach88/shelfshare/internal/changefeed"
	"github.com/roach88/shelfshare/internal/docstore"
	"github.com/roach88/shelfshare/internal/lending"
	"github.com/roach88/shelfshare/internal/mailer"
	"github.com/roach88/shelfshare/internal/reconcile"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHELFSHARE_"

// Config is the full service configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Mail       MailConfig       `yaml:"mail"`
	Lending    LendingConfig    `yaml:"lending"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	HTTP       HTTPConfig       `yaml:"http"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

type DispatcherConfig struct {
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// MailConfig selects the mail sender. With no Host, mail is only logged.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// RatePerSecond bounds outgoing mail; zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type LendingConfig struct {
	DefaultTickets      int64  `yaml:"default_tickets"`
	DefaultPrice        int64  `yaml:"default_price"`
	DefaultHallAccounts int64  `yaml:"default_hall_accounts"`
	DefaultCover        string `yaml:"default_cover"`
	HallGrant           int64  `yaml:"hall_grant"`
	MaxTxnAttempts      int    `yaml:"max_txn_attempts"`
}

type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Admins may open halls and buy hall accounts over HTTP.
	Admins []string `yaml:"admins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: DriverSQLite, Path: "shelfshare.db"},
		Dispatcher: DispatcherConfig{
			Workers:      changefeed.DefaultWorkers,
			BatchSize:    changefeed.DefaultBatchSize,
			PollInterval: changefeed.DefaultPollInterval,
			Backoff: BackoffConfig{
				Base:        changefeed.DefaultBackoff.Base,
				Max:         changefeed.DefaultBackoff.Max,
				MaxAttempts: changefeed.DefaultBackoff.MaxAttempts,
			},
		},
		Mail: MailConfig{Port: 587, RatePerSecond: 5, Burst: 10},
		Lending: LendingConfig{
			DefaultTickets:      lending.DefaultTickets,
			DefaultPrice:        lending.DefaultPrice,
			DefaultHallAccounts: lending.DefaultHallAccounts,
			DefaultCover:        lending.DefaultCover,
			HallGrant:           cascade.DefaultHallGrant,
			MaxTxnAttempts:      docstore.DefaultMaxAttempts,
		},
		Reconcile: ReconcileConfig{Enabled: true, Schedule: reconcile.DefaultSchedule},
		HTTP:      HTTPConfig{Addr: ":8080"},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
// envFile is loaded into the process environment when it exists; variables
// already set are not overwritten.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg, rejecting unknown fields.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_PATH", &c.Store.Path)
	str("STORE_DSN", &c.Store.DSN)
	str("MAIL_HOST", &c.Mail.Host)
	str("MAIL_USERNAME", &c.Mail.Username)
	str("MAIL_PASSWORD", &c.Mail.Password)
	str("MAIL_FROM", &c.Mail.From)
	str("RECONCILE_SCHEDULE", &c.Reconcile.Schedule)
	str("HTTP_ADDR", &c.HTTP.Addr)
	if v, ok := lookup(EnvPrefix + "HTTP_ADMINS"); ok {
		c.HTTP.Admins = nil
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				c.HTTP.Admins = append(c.HTTP.Admins, h)
			}
		}
	}
	if err := num("MAIL_PORT", &c.Mail.Port); err != nil {
		return err
	}
	if err := num("DISPATCHER_WORKERS", &c.Dispatcher.Workers); err != nil {
		return err
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q: must be %s or %s", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1, got %d", c.Dispatcher.Workers)
	}
	if c.Mail.Host != "" && c.Mail.From == "" {
		return errors.New("mail.from is required when mail.host is set")
	}
	if c.Lending.HallGrant < 0 {
		return fmt.Errorf("lending.hall_grant must not be negative, got %d", c.Lending.HallGrant)
	}
	return nil
}

// OpenStore opens the configured document store.
func (c Config) OpenStore(ctx context.Context, opts ...docstore.Option) (*docstore.Store, error) {
	if c.Store.Driver == DriverPostgres {
		return docstore.OpenPostgres(ctx, c.Store.DSN, opts...)
	}
	return docstore.Open(c.Store.Path, opts...)
}

// DispatcherOptions converts the dispatcher section.
func (c Config) DispatcherOptions() []changefeed.Option {
	d := c.Dispatcher
	return []changefeed.Option{
		changefeed.WithWorkers(d.Workers),
		changefeed.WithBatchSize(d.BatchSize),
		changefeed.WithPollInterval(d.PollInterval),
		changefeed.WithBackoff(changefeed.BackoffPolicy{
			Base:        d.Backoff.Base,
			Max:         d.Backoff.Max,
			MaxAttempts: d.Backoff.MaxAttempts,
		}),
	}
}

// Mailer builds the mail sender: SMTP when a host is configured, a logging
// sender otherwise, rate limited when RatePerSecond is positive.
func (c Config) Mailer() mailer.Sender {
	var s mailer.Sender = mailer.Log{}
	if c.Mail.Host != "" {
		s = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     c.Mail.Host,
			Port:     c.Mail.Port,
			Username: c.Mail.Username,
			Password: c.Mail.Password,
			From:     c.Mail.From,
		})
	}
	if c.Mail.RatePerSecond > 0 {
		s = mailer.NewLimited(s, c.Mail.RatePerSecond, max(c.Mail.Burst, 1))
	}
	return s
}

func (c Config) txn() docstore.TxnOptions {
	return docstore.TxnOptions{MaxAttempts: c.Lending.MaxTxnAttempts}
}

// LendingOptions converts the lending section.
func (c Config) LendingOptions() lending.Options {
	return lending.Options{
		DefaultTickets:      c.Lending.DefaultTickets,
		DefaultPrice:        c.Lending.DefaultPrice,
		DefaultHallAccounts: c.Lending.DefaultHallAccounts,
		DefaultCover:        c.Lending.DefaultCover,
		Txn:                 c.txn(),
	}
}

// CascadeOptions converts the settings the reactions use.
func (c Config) CascadeOptions() cascade.Options {
	return cascade.Options{HallGrant: c.Lending.HallGrant, Txn: c.txn()}
}
