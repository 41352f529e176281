package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// TLSConfig configures TLS termination on the admin and proxy listeners.
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ClientCA   string `mapstructure:"client_ca"`
	MaxVersion string `mapstructure:"max_version"`
}

// BuildTLSConfig returns nil when TLS is disabled. A client CA turns on mutual TLS.
func BuildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	certPath, err := resolvePath(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("resolve certificate path: %w", err)
	}
	keyPath, err := resolvePath(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("resolve private key path: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load X509 key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tlsVersion(cfg.MaxVersion),
	}

	if cfg.ClientCA != "" {
		caPath, err := resolvePath(cfg.ClientCA)
		if err != nil {
			return nil, fmt.Errorf("resolve client CA path: %w", err)
		}
		caBytes, err := os.ReadFile(caPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("failed to append CA certificate from %s", cfg.ClientCA)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, path), nil
}

func tlsVersion(version string) uint16 {
	switch version {
	case "TLS12":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS13
	}
}
