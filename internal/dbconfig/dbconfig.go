// Package dbconfig provides the connection settings shared by the config
// and driver packages. This package exists to break the circular import
// between config and driver/mysql.
package dbconfig

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DatabaseConfig holds the connection settings for one side of a comparison.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"` // disable, preferred (default), require, verify-ca, verify-full

	ConnectTimeout time.Duration `yaml:"connect_timeout"` // dial timeout (default: 10s)
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // I/O read timeout, 0 = none
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // I/O write timeout, 0 = none
}

// Addr returns host:port.
func (c *DatabaseConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Endpoint is the password-free description of a side stored in reports.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s/%s", e.User, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Database)
}

// Endpoint returns the redacted description of this config.
func (c *DatabaseConfig) Endpoint() Endpoint {
	return Endpoint{Host: c.Host, Port: c.Port, Database: c.Database, User: c.User}
}

// SameDatabase reports whether both configs point at the same database.
func (c *DatabaseConfig) SameDatabase(other *DatabaseConfig) bool {
	return c.Host == other.Host && c.Port == other.Port && c.Database == other.Database
}
