package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DBCredentials holds the database connection parameters read from the environment.
type DBCredentials struct {
	// User is the database role.
	// Env: USER
	User string `envconfig:"USER"`

	// Password for User.
	// Env: PASS
	Password string `envconfig:"PASS"`

	// Host is the database server.
	// Env: HOST (default: localhost)
	Host string `envconfig:"HOST" default:"localhost"`

	// Port is the database port.
	// Env: PORT (default: 5432)
	Port int `envconfig:"PORT" default:"5432"`

	// Name is the database name.
	// Env: DB
	Name string `envconfig:"DB"`

	// URL is a complete connection string that replaces the parts above.
	// Env: DB_CREDENTIALS
	URL string `envconfig:"DB_CREDENTIALS"`
}

// LoadDotEnv loads environment variables from a .env file.
// If path is empty, it loads from ".env" in the current directory.
// A missing file is not an error. Variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: failed to load env file '%s': %v", ErrConfig, path, err)
	}
	return nil
}

// LoadCredentials reads the optional .env file and then the environment.
func LoadCredentials(envPath string) (DBCredentials, error) {
	if err := LoadDotEnv(envPath); err != nil {
		return DBCredentials{}, err
	}
	var creds DBCredentials
	if err := envconfig.Process("", &creds); err != nil {
		return DBCredentials{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return creds, nil
}

// Validate reports missing or out-of-range parts. A DSN override skips the part checks.
func (c DBCredentials) Validate() error {
	if c.URL != "" {
		return nil
	}
	var missing []string
	if c.User == "" {
		missing = append(missing, "USER")
	}
	if c.Host == "" {
		missing = append(missing, "HOST")
	}
	if c.Name == "" {
		missing = append(missing, "DB")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing environment variables %v", ErrConfig, missing)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT %d out of range 1-65535", ErrConfig, c.Port)
	}
	return nil
}

// DSN returns a postgres connection URL. Special characters in the user and
// password are escaped.
func (c DBCredentials) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password == "" {
		u.User = url.User(c.User)
	}
	return u.String()
}
