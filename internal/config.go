package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Data API backends.
const (
	DataBackendGraphQL = "graphql"
	DataBackendSQLite  = "sqlite"
)

// Blob store backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	DataAPI   DataAPIConfig     `yaml:"data_api"`
	Blob      BlobConfig        `yaml:"blob"`
	Hydration HydrationConfig   `yaml:"hydration"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.DataAPI.Validate(); err != nil {
		return fmt.Errorf("data_api: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.Hydration.Validate(); err != nil {
		return fmt.Errorf("hydration: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// PublicURL is the externally reachable base of the server, used to build
	// image URLs for the fs blob backend.
	PublicURL string `yaml:"public_url"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.PublicURL, validation.Required, is.URL),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataAPIConfig selects and configures the note record backend.
type DataAPIConfig struct {
	Backend string        `yaml:"backend"`
	GraphQL GraphQLConfig `yaml:"graphql"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
}

// Validate validates the Data API configuration.
func (c *DataAPIConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(DataBackendGraphQL, DataBackendSQLite)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case DataBackendGraphQL:
		return c.GraphQL.Validate()
	default:
		return c.SQLite.Validate()
	}
}

// GraphQLConfig points at a hosted GraphQL Data API.
type GraphQLConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Validate validates the GraphQL configuration.
func (c *GraphQLConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BlobConfig selects and configures the image store.
type BlobConfig struct {
	Backend string       `yaml:"backend"`
	FS      FSBlobConfig `yaml:"fs"`
	S3      S3BlobConfig `yaml:"s3"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BlobBackendFS, BlobBackendS3)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BlobBackendS3:
		return c.S3.Validate()
	default:
		return c.FS.Validate()
	}
}

// FSBlobConfig stores images in a local directory served under /blobs.
type FSBlobConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the fs blob configuration.
func (c *FSBlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// S3BlobConfig stores images in an S3 compatible bucket.
//
// Credentials come from the default AWS chain unless AccessKeyID and
// SecretAccessKey are both set.
type S3BlobConfig struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

// Validate validates the S3 configuration.
func (c *S3BlobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.URLExpiry, validation.Min(time.Duration(0))),
		validation.Field(&c.SecretAccessKey, validation.When(c.AccessKeyID != "", validation.Required)),
	)
}

// HydrationConfig controls image URL resolution during refresh.
type HydrationConfig struct {
	// Concurrency caps parallel URL resolutions; 0 means unlimited.
	Concurrency int `yaml:"concurrency"`
}

// Validate validates the hydration configuration.
func (c *HydrationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a config that runs locally with SQLite records
// and images on disk.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			HTTP:      HTTPConfig{Port: 8080},
			PublicURL: "http://localhost:8080",
		},
		DataAPI: DataAPIConfig{
			Backend: DataBackendSQLite,
			SQLite:  SQLiteConfig{Path: "./notebox.db"},
		},
		Blob: BlobConfig{
			Backend: BlobBackendFS,
			FS:      FSBlobConfig{Root: "./blobs"},
			S3:      S3BlobConfig{URLExpiry: 15 * time.Minute},
		},
		Hydration: HydrationConfig{Concurrency: 8},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
