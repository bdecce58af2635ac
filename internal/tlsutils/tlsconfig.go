// Package tlsutils builds a *tls.Config from environment-variable-named
// client certificate material, so the inventory client can speak mTLS to
// a mesh/VPN API that requires it, without adding any flags of its own.
//
// Adapted from pkg/tlsutils/tlsconfig.go, narrowed to the one caller
// this controller has (the inventory client); the env-var-prefix
// convention is unchanged.
package tlsutils

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultMinVersion = 0

// CreateTLSConfig builds a tls.Config from the <prefix>_CA_FILE,
// <prefix>_CERT_FILE, <prefix>_KEY_FILE, <prefix>_TLS_SERVER_NAME, and
// <prefix>_TLS_INSECURE environment variables. Every variable is
// optional; an unset prefix yields a zero-value tls.Config.
func CreateTLSConfig(prefix string) (*tls.Config, error) {
	caFile := os.Getenv(fmt.Sprintf("%s_CA_FILE", prefix))
	certFile := os.Getenv(fmt.Sprintf("%s_CERT_FILE", prefix))
	keyFile := os.Getenv(fmt.Sprintf("%s_KEY_FILE", prefix))
	serverName := os.Getenv(fmt.Sprintf("%s_TLS_SERVER_NAME", prefix))
	isInsecureStr := strings.ToLower(os.Getenv(fmt.Sprintf("%s_TLS_INSECURE", prefix)))
	isInsecure := isInsecureStr == "true" || isInsecureStr == "yes" || isInsecureStr == "1"
	return NewTLSConfig(certFile, keyFile, caFile, serverName, isInsecure, defaultMinVersion)
}

// NewTLSConfig loads the cert, key, and CA from disk and builds a
// tls.Config from them directly.
func NewTLSConfig(certPath, keyPath, caPath, serverName string, insecure bool, minVersion uint16) (*tls.Config, error) {
	if certPath != "" && keyPath == "" || certPath == "" && keyPath != "" {
		return nil, errors.New("either both cert and key or none must be provided")
	}
	var certificates []tls.Certificate
	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("could not load TLS cert: %s", err)
		}
		certificates = append(certificates, cert)
	}
	roots, err := loadRoots(caPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:         minVersion,
		Certificates:       certificates,
		RootCAs:            roots,
		InsecureSkipVerify: insecure,
		ServerName:         serverName,
	}, nil
}

func loadRoots(caPath string) (*x509.CertPool, error) {
	if caPath == "" {
		return nil, nil
	}

	roots := x509.NewCertPool()
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %s", caPath, err)
	}
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("could not read root certs from %s", caPath)
	}
	return roots, nil
}
