package tls

import (
	"crypto/tls"
	"time"
)

// Config holds the TLS options of the ops listener
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`
	// CAFile makes client certificates signed by this CA mandatory
	CAFile string `yaml:"ca_file"`

	// Certificate generation options (if CertFile/KeyFile not provided)
	AutoGenerate bool          `yaml:"auto_generate"`
	Hosts        []string      `yaml:"hosts"`     // Hostnames/IPs for generated certificate
	ValidFor     time.Duration `yaml:"valid_for"` // default 1 year
}

// DefaultConfig returns TLS disabled with auto-generation for localhost
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		ValidFor:     365 * 24 * time.Hour,
	}
}

// CertificateInfo holds certificate metadata
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DNSNames  []string
	IsCA      bool
}

// IsExpired checks if the certificate has expired
func (ci *CertificateInfo) IsExpired() bool {
	return time.Now().After(ci.NotAfter)
}

// ExpiresIn returns the time until certificate expiration
func (ci *CertificateInfo) ExpiresIn() time.Duration {
	return time.Until(ci.NotAfter)
}

// SecureCipherSuites returns the TLS 1.2 cipher suites the listener
// accepts. TLS 1.3 suites are not configurable.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}
