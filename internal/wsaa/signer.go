package wsaa

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"go.mozilla.org/pkcs7"
)

// Signer wraps the login request into a CMS (PKCS#7) security envelope.
// Signing is a delegated capability; the Ticket Manager only invokes it.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// CMSSigner signs with an X.509 certificate and private key issued by
// the tax authority for this CUIT.
type CMSSigner struct {
	cert *x509.Certificate
	key  crypto.PrivateKey
}

// NewCMSSigner loads the certificate and key from disk. A missing file
// is a configuration error, fatal for the affected operation.
func NewCMSSigner(certPath, keyPath string) (*CMSSigner, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateMissing, certPath)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCertificateMissing, keyPath)
	}

	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateMissing, err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateMissing, err)
	}

	return &CMSSigner{cert: cert, key: key}, nil
}

// Sign produces the DER-encoded CMS envelope around data.
func (s *CMSSigner) Sign(data []byte) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	if err := signed.AddSigner(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	out, err := signed.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	return out, nil
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKey(keyPEM []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format")
}
