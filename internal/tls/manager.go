// Package tls serves certificates for the dashboard: ACME via autocert,
// a configured key pair, or a self-signed development certificate.
package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"sync"

	"shadowlog/internal/config"
	"shadowlog/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

type TLSManager struct {
	config   config.TLSConfig
	autoCert *autocert.Manager

	mu     sync.Mutex
	static *tls.Certificate
}

func NewTLSManager(cfg config.TLSConfig) *TLSManager {
	manager := &TLSManager{config: cfg}

	if cfg.AutoCert && cfg.Enabled {
		manager.setupAutoCert()
	}

	return manager
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.config.CertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.CertDir),
		Email:      m.config.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.config.Domain),
		zap.String("cache_dir", m.config.CertDir))
}

// GetCertificate tries autocert, then the configured files, then a
// self-signed certificate. The non-ACME result is loaded once.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Debug("AutoCert unavailable, using static certificate", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.static != nil {
		return m.static, nil
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
		if err == nil {
			m.static = &cert
			return m.static, nil
		}
		util.Warn("Could not load dashboard certificate, falling back to self-signed", zap.Error(err))
	}

	cert, err := m.generateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	m.static = cert
	return cert, nil
}

func (m *TLSManager) generateSelfSignedCert() (*tls.Certificate, error) {
	generator := NewDevCertGenerator(m.config.CertDir)
	hosts := []string{
		m.config.Domain,
		"localhost",
		"127.0.0.1",
		"::1",
	}

	cert, err := generator.GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

// ChallengeHandler answers ACME http-01 challenges and passes everything
// else to fallback. Without autocert it returns fallback unchanged.
func (m *TLSManager) ChallengeHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
