package types

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// GatewayCluster is the reserved cluster name for the gateway's own secrets
	GatewayCluster = "__gateway"

	// GatewayIdentityAlias is the keystore entry holding the gateway TLS identity
	GatewayIdentityAlias = "gateway-identity"

	// GatewayIdentityPassphraseAlias is the alias in the __gateway credential
	// store that protects the gateway-identity private key
	GatewayIdentityPassphraseAlias = "gateway-identity-passphrase"
)

// clusterNamePattern keeps derived file names inside the keystore directory
var clusterNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ResolveCluster returns the cluster name to use, defaulting to GatewayCluster
func ResolveCluster(cluster string) string {
	if cluster == "" {
		return GatewayCluster
	}
	return cluster
}

// ValidateClusterName checks that a cluster name can be mapped to a store file
func ValidateClusterName(cluster string) error {
	if cluster == GatewayCluster {
		return nil
	}
	if len(cluster) > 128 || !clusterNamePattern.MatchString(cluster) {
		return &Error{
			Kind:    KindInvalidArgument,
			Op:      "validate cluster",
			Cluster: cluster,
			Err:     fmt.Errorf("cluster name must match %s", clusterNamePattern),
		}
	}
	return nil
}

// ValidateAliasName rejects empty alias names
func ValidateAliasName(name string) error {
	if name == "" {
		return &Error{Kind: KindInvalidArgument, Op: "validate alias", Err: fmt.Errorf("alias name cannot be empty")}
	}
	return nil
}

// CertificateInfo describes the certificate stored under a gateway keystore entry
type CertificateInfo struct {
	Alias        string
	Subject      string
	DNSNames     []string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
}
