// Package ca generates the self-signed certificate authority and the
// wildcard server certificate used by the cluster ingress and registry.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/kubengine/kubengine/pkg/log"
)

const (
	keyBits  = 2048
	validFor = 10 * 365 * 24 * time.Hour
)

// DoneSentinel is the filename written to the certificate directory after
// a successful generation. Its presence makes EnsureCertificates a no-op.
const DoneSentinel = ".done"

// EnsureCertificates generates a CA and a wildcard server certificate for
// the given domain under dir, unless the sentinel from a previous run is
// present. Files written: ca.crt, ca.key, server.crt, server.key.
func EnsureCertificates(dir, domain string) error {
	if _, err := os.Stat(filepath.Join(dir, DoneSentinel)); err == nil {
		log.Debugf("Certificates in %q already generated, skipping\n", dir)
		return nil
	}
	log.Infof("Generating cluster certificates for *.%s\n", domain)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	caKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %s", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("kubengine-ca@%s", domain),
			Organization: []string{"kubengine"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %s", err)
	}

	serverKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("failed to generate server key: %s", err)
	}
	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano() + 1),
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("*.%s", domain),
			Organization: []string{"kubengine"},
		},
		DNSNames:    []string{domain, fmt.Sprintf("*.%s", domain)},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(validFor),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return err
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create server certificate: %s", err)
	}

	files := []struct {
		name string
		typ  string
		body []byte
		mode os.FileMode
	}{
		{"ca.crt", "CERTIFICATE", caDER, 0644},
		{"ca.key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(caKey), 0600},
		{"server.crt", "CERTIFICATE", serverDER, 0644},
		{"server.key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(serverKey), 0600},
	}
	for _, f := range files {
		block := &pem.Block{Type: f.typ, Bytes: f.body}
		if err := os.WriteFile(filepath.Join(dir, f.name), pem.EncodeToMemory(block), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %s", f.name, err)
		}
	}
	return os.WriteFile(filepath.Join(dir, DoneSentinel), []byte(time.Now().Format(time.RFC3339)+"\n"), 0644)
}
