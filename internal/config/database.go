package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "content-query-custom"

// DSN returns a MySQL-compatible data source name built from the discrete
// connection fields. RegisterTLS must be called first when the TLS mode
// requires a custom CA.
func (d *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
	)

	if param := d.effectiveTLSParam(); param != "" {
		dsn += fmt.Sprintf("&tls=%s", param)
	}

	return dsn
}

// effectiveTLSParam maps the configured TLS mode to the driver's tls parameter.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "", "off":
		return ""
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS config with the MySQL driver for
// verify-ca and verify-full modes. It is a no-op for the other modes.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	if d.TLS.CAFile == "" {
		return fmt.Errorf("database.tls.ca_file is required for mode %q", d.TLS.Mode)
	}

	pem, err := os.ReadFile(d.TLS.CAFile)
	if err != nil {
		return fmt.Errorf("failed to read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("failed to parse CA certificates from %q", d.TLS.CAFile)
	}

	cfg := &tls.Config{RootCAs: pool}
	if d.TLS.Mode == "verify-ca" {
		// Verify the chain against the CA but skip the hostname check.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyAgainstPool(pool)
	} else {
		cfg.ServerName = d.TLS.ServerName
		if cfg.ServerName == "" {
			cfg.ServerName = d.Host
		}
	}

	return mysql.RegisterTLSConfig(tlsConfigName, cfg)
}

// verifyAgainstPool builds a VerifyPeerCertificate callback that checks the
// server chain against the pool without verifying the hostname.
func verifyAgainstPool(pool *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		if len(certs) == 0 {
			return fmt.Errorf("server presented no certificates")
		}

		opts := x509.VerifyOptions{
			Roots:         pool,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}
