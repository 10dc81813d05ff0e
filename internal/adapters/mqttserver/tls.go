package mqttserver

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSFiles names the PEM files of an MQTT TLS setup. All empty means
// plain TCP.
type TLSFiles struct {
	CA   string
	Cert string
	Key  string
}

// Enabled reports whether any file is set.
func (f TLSFiles) Enabled() bool {
	return f.CA != "" || f.Cert != "" || f.Key != ""
}

// ClientConfig is used when dialling a broker. CA verifies the broker and
// the optional key pair authenticates the bridge.
func (f TLSFiles) ClientConfig() (*tls.Config, error) {
	if !f.Enabled() {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if f.CA != "" {
		pool, err := loadPool(f.CA)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	cert, ok, err := f.keyPair()
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ServerConfig is used by a listening broker. The key pair is required;
// a CA makes client certificates mandatory.
func (f TLSFiles) ServerConfig() (*tls.Config, error) {
	if !f.Enabled() {
		return nil, nil
	}
	cert, ok, err := f.keyPair()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("tls listener requires cert and key")
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if f.CA != "" {
		pool, err := loadPool(f.CA)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (f TLSFiles) keyPair() (tls.Certificate, bool, error) {
	if f.Cert == "" && f.Key == "" {
		return tls.Certificate{}, false, nil
	}
	if f.Cert == "" || f.Key == "" {
		return tls.Certificate{}, false, errors.New("both tls cert and key are required")
	}
	cert, err := tls.LoadX509KeyPair(f.Cert, f.Key)
	if err != nil {
		return tls.Certificate{}, false, fmt.Errorf("load key pair: %w", err)
	}
	return cert, true, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
