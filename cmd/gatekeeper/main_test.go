package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/gatekeeper/pkg/config"
	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/cuemby/gatekeeper/pkg/token"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `log:
  level: error
kdf:
  time: 1
  memory_kib: 1024
  threads: 1
`

// newHome creates a gateway home with a config using cheap KDF parameters
func newHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "conf", config.DefaultFileName), []byte(testConfigYAML), 0o644))
	return home
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, home, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--home", home}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func createMaster(t *testing.T, home string) {
	t.Helper()
	res := runCLI(t, home, "", "create-master", "--value", "correct horse")
	require.Equal(t, 0, res.code, res.stderr)
}

func TestCreateMaster(t *testing.T) {
	home := newHome(t)

	res := runCLI(t, home, "", "create-master", "--value", "correct horse")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Master secret has been persisted to disk.\n", res.stdout)

	info, err := os.Stat(filepath.Join(home, "data", "security", "master"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	res = runCLI(t, home, "", "create-master", "--value", "other")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Error:")

	res = runCLI(t, home, "", "create-master", "--value", "other", "--force")
	assert.Equal(t, 0, res.code, res.stderr)
}

func TestCreateMasterPrompt(t *testing.T) {
	home := newHome(t)

	res := runCLI(t, home, "first\nsecond\n", "create-master")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "did not match")
	_, err := os.Stat(filepath.Join(home, "data", "security", "master"))
	assert.True(t, os.IsNotExist(err))

	res = runCLI(t, home, "s3cr3t\ns3cr3t\n", "create-master")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "Enter master secret: ")
	assert.Contains(t, res.stderr, "Enter master secret again: ")

	// the prompted secret unlocks what it created
	res = runCLI(t, home, "", "create-alias", "a", "--value", "v")
	require.Equal(t, 0, res.code, res.stderr)
}

func TestCommandsRequireMaster(t *testing.T) {
	home := newHome(t)

	for _, args := range [][]string{
		{"create-alias", "db-password", "--value", "s3cr3t"},
		{"create-cert"},
		{"list-alias"},
	} {
		res := runCLI(t, home, "", args...)
		assert.Equal(t, 1, res.code, args[0])
		assert.Contains(t, res.stderr, "Hint: run 'gatekeeper create-master' first", args[0])
	}
}

func TestAliasCommands(t *testing.T) {
	home := newHome(t)
	createMaster(t, home)

	res := runCLI(t, home, "", "create-alias", "db-password", "--value", "s3cr3t", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "db-password has been successfully created.\n", res.stdout)

	res = runCLI(t, home, "", "create-alias", "api-key", "--generate", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "api-key has been successfully generated.\n", res.stdout)

	res = runCLI(t, home, "", "list-alias", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Listing aliases for: prod\napi-key\ndb-password\n\n2 items.\n", res.stdout)

	// other clusters are isolated
	res = runCLI(t, home, "", "list-alias", "--cluster", "staging")
	assert.Equal(t, 1, res.code)
	assert.NotContains(t, res.stdout, "db-password")
	assert.Contains(t, res.stderr, "Hint:")

	res = runCLI(t, home, "", "delete-alias", "db-password", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "db-password has been successfully deleted.\n", res.stdout)

	// deleting again only warns
	res = runCLI(t, home, "", "delete-alias", "db-password", "--cluster", "prod")
	assert.Equal(t, 0, res.code, res.stderr)

	res = runCLI(t, home, "", "list-alias", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Listing aliases for: prod\napi-key\n\n1 items.\n", res.stdout)
}

func TestCreateAliasFlags(t *testing.T) {
	home := newHome(t)
	createMaster(t, home)

	res := runCLI(t, home, "", "create-alias", "x", "--value", "v", "--generate")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "cannot be used together")

	res = runCLI(t, home, "", "create-alias", "x", "--cluster", "../escape", "--value", "v")
	assert.Equal(t, 1, res.code)

	res = runCLI(t, home, "v1\nv1\n", "create-alias", "prompted")
	require.Equal(t, 0, res.code, res.stderr)

	res = runCLI(t, home, "", "list-alias")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Listing aliases for: "+types.GatewayCluster)
	assert.Contains(t, res.stdout, "prompted\n")
}

func TestMasterOverride(t *testing.T) {
	home := newHome(t)

	res := runCLI(t, home, "", "--master", "override", "create-alias", "a", "--value", "v", "--cluster", "prod")
	require.Equal(t, 0, res.code, res.stderr)
	_, err := os.Stat(filepath.Join(home, "data", "security", "master"))
	assert.True(t, os.IsNotExist(err))

	res = runCLI(t, home, "", "--master", "wrong", "list-alias", "--cluster", "prod")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Hint: the master secret does not match")
}

func TestCreateCert(t *testing.T) {
	home := newHome(t)
	createMaster(t, home)

	res := runCLI(t, home, "", "create-cert", "--hostname", "gateway.example.com")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Certificate gateway-identity has been successfully created.")
	assert.Contains(t, res.stdout, "gateway.example.com")
	assert.Contains(t, res.stdout, "DigitalSignature")

	res = runCLI(t, home, "", "list-alias")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, types.GatewayIdentityPassphraseAlias)

	pemPath := filepath.Join(t.TempDir(), "gateway.pem")
	res = runCLI(t, home, "", "export-cert", "--output", pemPath)
	require.Equal(t, 0, res.code, res.stderr)
	data, err := os.ReadFile(pemPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN CERTIFICATE")

	cfg, err := config.Load(home, "")
	require.NoError(t, err)
	svcs := services.New(services.Options{Config: cfg})
	require.NoError(t, svcs.Init())
	require.NoError(t, svcs.Start())
	defer svcs.Stop()

	cert, err := svcs.Keystore().GatewayCertificate(types.GatewayIdentityAlias)
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "gateway.example.com")

	signed, err := svcs.Tokens().IssueToken(token.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}})
	require.NoError(t, err)
	claims, err := svcs.Tokens().VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Gatekeeper version")
}
