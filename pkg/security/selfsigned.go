package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	// DefaultIdentityKeyBits is the RSA key size for the gateway identity
	DefaultIdentityKeyBits = 2048
	// DefaultIdentityValidity is how long a self-signed identity stays valid
	DefaultIdentityValidity = 365 * 24 * time.Hour
)

// SelfSignedRequest describes the gateway identity certificate to create
type SelfSignedRequest struct {
	Hostname string
	KeyBits  int
	Validity time.Duration
}

// ResolveHostname returns the override when set, else the local host name
func ResolveHostname(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to discover local hostname: %w", err)
	}
	if hostname == "" {
		return "localhost", nil
	}
	return hostname, nil
}

// GenerateSelfSigned creates a key pair and a certificate bound to the
// requested hostname, signed by its own key
func GenerateSelfSigned(req SelfSignedRequest) (*x509.Certificate, *rsa.PrivateKey, error) {
	if req.Hostname == "" {
		return nil, nil, fmt.Errorf("hostname cannot be empty")
	}
	keyBits := req.KeyBits
	if keyBits == 0 {
		keyBits = DefaultIdentityKeyBits
	}
	validity := req.Validity
	if validity == 0 {
		validity = DefaultIdentityValidity
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate identity key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization:       []string{"Gatekeeper"},
			OrganizationalUnit: []string{"Gateway"},
			CommonName:         req.Hostname,
		},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if ip := net.ParseIP(req.Hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{req.Hostname}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse self-signed certificate: %w", err)
	}

	return cert, key, nil
}
