package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/hashicorp-forge/wopihost/pkg/editor"
	"github.com/hashicorp-forge/wopihost/pkg/storage/blob"
)

// Config contains the WOPI host configuration.
type Config struct {
	// LogLevel is the level of logging (trace, debug, info, warn, error).
	LogLevel string `hcl:"log_level,optional"`

	Server   *Server   `hcl:"server,block"`
	Database *Database `hcl:"database,block"`
	Editors  []*Editor `hcl:"editor,block"`
	Tokens   *Tokens   `hcl:"tokens,block"`
	Locks    *Locks    `hcl:"locks,block"`
	Proof    *Proof    `hcl:"proof,block"`
	Storage  *Storage  `hcl:"storage,block"`
	Events   *Events   `hcl:"events,block"`
	Datadog  *Datadog  `hcl:"datadog,block"`
}

// Server configures the HTTP listener.
type Server struct {
	// Addr is the listen address (default: ":8000").
	Addr string `hcl:"addr,optional"`

	// BaseURL is the externally visible URL of the host, as the editor
	// reaches it. Proof signatures cover this URL, and WOPISrc values are
	// built from it.
	BaseURL string `hcl:"base_url"`

	// IdentityHeader carries the authenticated user name on host page
	// requests, set by the fronting auth proxy (default: "X-Forwarded-User").
	IdentityHeader string `hcl:"identity_header,optional"`

	// HostViewURL and HostEditURL are templates for the host pages of a
	// file, returned from PutRelativeFile. "{fileId}" is replaced.
	HostViewURL string `hcl:"host_view_url,optional"`
	HostEditURL string `hcl:"host_edit_url,optional"`

	ReadTimeout     string `hcl:"read_timeout,optional"`     // default: 30s
	WriteTimeout    string `hcl:"write_timeout,optional"`    // default: 5m
	ShutdownTimeout string `hcl:"shutdown_timeout,optional"` // default: 15s
}

// Database configures the database connection.
type Database struct {
	// Driver is "sqlite" or "postgres" (default: "sqlite").
	Driver string `hcl:"driver,optional"`

	// DSN is the driver data source name. For SQLite a file path.
	DSN string `hcl:"dsn"`

	// AutoMigrate creates the tables on startup (default: true).
	AutoMigrate *bool `hcl:"auto_migrate,optional"`

	MaxIdleConns    int    `hcl:"max_idle_conns,optional"`
	MaxOpenConns    int    `hcl:"max_open_conns,optional"`
	ConnMaxLifetime string `hcl:"conn_max_lifetime,optional"`
	ConnMaxIdleTime string `hcl:"conn_max_idle_time,optional"`
}

// Editor configures one editing service.
type Editor struct {
	// Kind is "office" or "collabora".
	Kind string `hcl:"kind,label"`

	// DiscoveryURL is the editor's discovery document.
	DiscoveryURL string `hcl:"discovery_url"`

	// NetZone selects the discovery net-zone to use, e.g. "external-https".
	// The first zone of the document is used when unset.
	NetZone string `hcl:"net_zone,optional"`

	// Denylist names apps to ignore in the discovery document.
	Denylist []string `hcl:"denylist,optional"`

	// Locale for the editor UI, e.g. "en-US".
	Locale string `hcl:"locale,optional"`

	InitialDelay    string `hcl:"initial_delay,optional"`    // default: 10s
	RefreshInterval string `hcl:"refresh_interval,optional"` // default: 12h
	FetchTimeout    string `hcl:"fetch_timeout,optional"`    // default: 30s
}

// Tokens configures access tokens.
type Tokens struct {
	// Store is "database" or "memory" (default: "database").
	Store string `hcl:"store,optional"`

	TTL           string `hcl:"ttl,optional"`            // default: 2h
	SweepInterval string `hcl:"sweep_interval,optional"` // default: 15m
}

// Locks configures file locks.
type Locks struct {
	// Store is "database" or "memory" (default: "database").
	Store string `hcl:"store,optional"`
}

// Proof configures proof signature checks on WOPI requests.
type Proof struct {
	// Enabled turns proof checks on (default: true).
	Enabled *bool `hcl:"enabled,optional"`

	// CheckTimestamp rejects stale signatures (default: true).
	CheckTimestamp *bool `hcl:"check_timestamp,optional"`
}

// Storage configures where file content is kept.
type Storage struct {
	// Backend is "local" or "s3" (default: "local").
	Backend string `hcl:"backend,optional"`

	// Root is the directory of the local backend (default: "./data").
	Root string `hcl:"root,optional"`

	S3 *blob.S3Config `hcl:"s3,block"`
}

// Events configures file write events on Kafka/Redpanda.
type Events struct {
	Brokers []string `hcl:"brokers,optional"`
	Topic   string   `hcl:"topic,optional"`
}

// Datadog configures Datadog APM tracing.
type Datadog struct {
	Enabled bool   `hcl:"enabled,optional"`
	Env     string `hcl:"env,optional"`
	Service string `hcl:"service,optional"`
}

// Store kinds.
const (
	StoreDatabase = "database"
	StoreMemory   = "memory"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// NewConfig parses and validates an HCL configuration file.
func NewConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	c := &Config{}
	if err := hclsimple.DecodeFile(filename, nil, c); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// SetDefaults fills in unset optional values.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Server == nil {
		c.Server = &Server{}
	}
	setString(&c.Server.Addr, ":8000")
	setString(&c.Server.IdentityHeader, "X-Forwarded-User")
	setString(&c.Server.ReadTimeout, "30s")
	setString(&c.Server.WriteTimeout, "5m")
	setString(&c.Server.ShutdownTimeout, "15s")
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")

	if c.Database == nil {
		c.Database = &Database{}
	}
	setString(&c.Database.Driver, "sqlite")
	setBool(&c.Database.AutoMigrate, true)

	for _, e := range c.Editors {
		e.Kind = strings.ToLower(e.Kind)
		setString(&e.InitialDelay, "10s")
		setString(&e.RefreshInterval, "12h")
		setString(&e.FetchTimeout, "30s")
	}

	if c.Tokens == nil {
		c.Tokens = &Tokens{}
	}
	setString(&c.Tokens.Store, StoreDatabase)
	setString(&c.Tokens.TTL, "2h")
	setString(&c.Tokens.SweepInterval, "15m")

	if c.Locks == nil {
		c.Locks = &Locks{}
	}
	setString(&c.Locks.Store, StoreDatabase)

	if c.Proof == nil {
		c.Proof = &Proof{}
	}
	setBool(&c.Proof.Enabled, true)
	setBool(&c.Proof.CheckTimestamp, true)

	if c.Storage == nil {
		c.Storage = &Storage{}
	}
	setString(&c.Storage.Backend, BackendLocal)
	setString(&c.Storage.Root, "./data")
	if c.Storage.S3 != nil {
		c.Storage.S3.SetDefaults()
	}

	if c.Datadog != nil {
		setString(&c.Datadog.Service, "wopihost")
	}
}

// Validate checks the configuration and reports every problem found.
// SetDefaults must have been called.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validation.Validate(c.LogLevel,
		validation.In("trace", "debug", "info", "warn", "error"),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("log_level: %w", err))
	}

	if err := validation.ValidateStruct(c.Server,
		validation.Field(&c.Server.Addr, validation.Required),
		validation.Field(&c.Server.BaseURL, validation.Required, validation.By(isURL)),
		validation.Field(&c.Server.IdentityHeader, validation.Required),
		validation.Field(&c.Server.ReadTimeout, validation.By(isDuration)),
		validation.Field(&c.Server.WriteTimeout, validation.By(isDuration)),
		validation.Field(&c.Server.ShutdownTimeout, validation.By(isDuration)),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("server: %w", err))
	}

	if err := validation.ValidateStruct(c.Database,
		validation.Field(&c.Database.Driver, validation.In("sqlite", "postgres")),
		validation.Field(&c.Database.DSN, validation.Required),
		validation.Field(&c.Database.ConnMaxLifetime, validation.By(isDuration)),
		validation.Field(&c.Database.ConnMaxIdleTime, validation.By(isDuration)),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("database: %w", err))
	}

	if len(c.Editors) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one editor block is required"))
	}
	seen := make(map[string]bool)
	for _, e := range c.Editors {
		if seen[e.Kind] {
			result = multierror.Append(result, fmt.Errorf("editor %q: defined more than once", e.Kind))
		}
		seen[e.Kind] = true

		if err := validation.ValidateStruct(e,
			validation.Field(&e.Kind, validation.By(isEditorKind)),
			validation.Field(&e.DiscoveryURL, validation.Required, validation.By(isURL)),
			validation.Field(&e.InitialDelay, validation.By(isDuration)),
			validation.Field(&e.RefreshInterval, validation.By(isDuration)),
			validation.Field(&e.FetchTimeout, validation.By(isDuration)),
		); err != nil {
			result = multierror.Append(result, fmt.Errorf("editor %q: %w", e.Kind, err))
		}
	}

	if err := validation.ValidateStruct(c.Tokens,
		validation.Field(&c.Tokens.Store, validation.In(StoreDatabase, StoreMemory)),
		validation.Field(&c.Tokens.TTL, validation.By(isDuration)),
		validation.Field(&c.Tokens.SweepInterval, validation.By(isDuration)),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("tokens: %w", err))
	}

	if err := validation.ValidateStruct(c.Locks,
		validation.Field(&c.Locks.Store, validation.In(StoreDatabase, StoreMemory)),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("locks: %w", err))
	}

	if err := validation.ValidateStruct(c.Storage,
		validation.Field(&c.Storage.Backend, validation.In(BackendLocal, BackendS3)),
	); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage: %w", err))
	}
	if c.Storage.Backend == BackendS3 {
		if c.Storage.S3 == nil {
			result = multierror.Append(result, fmt.Errorf("storage: s3 block is required for the s3 backend"))
		} else if err := c.Storage.S3.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("storage.s3: %w", err))
		}
	}

	if c.Events != nil && len(c.Events.Brokers) == 0 && os.Getenv("REDPANDA_BROKERS") == "" {
		result = multierror.Append(result, fmt.Errorf("events: at least one broker is required"))
	}

	return result.ErrorOrNil()
}

// Duration parses a duration value that Validate has accepted.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func isDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like \"30s\"")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func isURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("must be an http(s) URL")
	}
	return nil
}

func isEditorKind(value any) error {
	s, _ := value.(string)
	_, err := editor.ParseKind(s)
	return err
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func setBool(p **bool, def bool) {
	if *p == nil {
		*p = &def
	}
}
