// Package tlsconfig builds client TLS settings from a base64-encoded PEM CA
// bundle, the form backends receive it in from the environment.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// Floor is the lowest TLS version a backend connection may negotiate.
const Floor = tls.VersionTLS12

var (
	// ErrInvalidCA is returned when the bundle is not base64 or holds no PEM certificate.
	ErrInvalidCA = errors.New("invalid CA bundle")
	// ErrUnsupportedVersion is returned for minimum versions other than TLS 1.2 and 1.3.
	ErrUnsupportedVersion = errors.New("unsupported TLS minimum version")
)

// Clamp raises versions below Floor, including zero, to Floor.
func Clamp(version uint16) uint16 {
	if version < Floor {
		return Floor
	}

	return version
}

// FromBase64CA returns a client config trusting only the certificates in
// caBase64. A zero minVersion means Floor.
func FromBase64CA(caBase64 string, minVersion uint16) (*tls.Config, error) {
	if minVersion == 0 {
		minVersion = Floor
	}

	if minVersion != tls.VersionTLS12 && minVersion != tls.VersionTLS13 {
		return nil, fmt.Errorf("%w: %#x", ErrUnsupportedVersion, minVersion)
	}

	pemBytes, err := base64.StdEncoding.DecodeString(caBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCA, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("%w: no PEM certificate found", ErrInvalidCA)
	}

	return &tls.Config{RootCAs: pool, MinVersion: minVersion}, nil
}
