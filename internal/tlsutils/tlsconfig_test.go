package tlsutils

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rsaCertPEM = `-----BEGIN CERTIFICATE-----
MIIB0zCCAX2gAwIBAgIJAI/M7BYjwB+uMA0GCSqGSIb3DQEBBQUAMEUxCzAJBgNV
BAYTAkFVMRMwEQYDVQQIDApTb21lLVN0YXRlMSEwHwYDVQQKDBhJbnRlcm5ldCBX
aWRnaXRzIFB0eSBMdGQwHhcNMTIwOTEyMjE1MjAyWhcNMTUwOTEyMjE1MjAyWjBF
MQswCQYDVQQGEwJBVTETMBEGA1UECAwKU29tZS1TdGF0ZTEhMB8GA1UECgwYSW50
ZXJuZXQgV2lkZ2l0cyBQdHkgTHRkMFwwDQYJKoZIhvcNAQEBBQADSwAwSAJBANLJ
hPHhITqQbPklG3ibCVxwGMRfp/v4XqhfdQHdcVfHap6NQ5Wok/4xIA+ui35/MmNa
rtNuC+BdZ1tMuVCPFZcCAwEAAaNQME4wHQYDVR0OBBYEFJvKs8RfJaXTH08W+SGv
zQyKn0H8MB8GA1UdIwQYMBaAFJvKs8RfJaXTH08W+SGvzQyKn0H8MAwGA1UdEwQF
MAMBAf8wDQYJKoZIhvcNAQEFBQADQQBJlffJHybjDGxRMqaRmDhX0+6v02TUKZsW
r5QuVbpQhH6u+0UgcW0jp9QwpxoPTLTWGXEWBBBurxFwiCBhkQ+V
-----END CERTIFICATE-----
`

var rsaKeyPEM = testingKey(`-----BEGIN RSA TESTING KEY-----
MIIBOwIBAAJBANLJhPHhITqQbPklG3ibCVxwGMRfp/v4XqhfdQHdcVfHap6NQ5Wo
k/4xIA+ui35/MmNartNuC+BdZ1tMuVCPFZcCAwEAAQJAEJ2N+zsR0Xn8/Q6twa4G
6OB1M1WO+k+ztnX/1SvNeWu8D6GImtupLTYgjZcHufykj09jiHmjHx8u8ZZB/o1N
MQIhAPW+eyZo7ay3lMz1V01WVjNKK9QSn1MJlb06h/LuYv9FAiEA25WPedKgVyCW
SmUwbPw8fnTcpqDWE3yTO3vKcebqMSsCIBF3UmVue8YU3jybC3NxuXq3wNm34R8T
xVLHwDXh/6NJAiEAl2oHGGLz64BuAfjKrqwz7qMYr9HCLIe/YsoWq/olzScCIQDi
D2lWusoe2/nEqfDVVWGWlyJ7yOmqaVm/iNUN9B2N2g==
-----END RSA TESTING KEY-----
`)

func testingKey(s string) string { return strings.ReplaceAll(s, "TESTING KEY", "PRIVATE KEY") }

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/file.pem"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCreateTLSConfig_OnlyCertFileIsInvalid(t *testing.T) {
	path := writeTemp(t, rsaCertPEM)
	t.Setenv("INVENTORY_CERT_FILE", path)

	_, err := CreateTLSConfig("INVENTORY")
	assert.Contains(t, err.Error(), "either both cert and key or none must be provided")
}

func TestCreateTLSConfig_ValidCertAndKey(t *testing.T) {
	certPath := writeTemp(t, rsaCertPEM)
	keyPath := writeTemp(t, rsaKeyPEM)
	t.Setenv("INVENTORY_CERT_FILE", certPath)
	t.Setenv("INVENTORY_KEY_FILE", keyPath)
	t.Setenv("INVENTORY_TLS_SERVER_NAME", "server-name")

	cfg, err := CreateTLSConfig("INVENTORY")
	require.NoError(t, err)
	assert.Equal(t, "server-name", cfg.ServerName)
	require.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestCreateTLSConfig_InsecureFlag(t *testing.T) {
	t.Setenv("INVENTORY_TLS_INSECURE", "true")

	cfg, err := CreateTLSConfig("INVENTORY")
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestCreateTLSConfig_InvalidCAFile(t *testing.T) {
	t.Setenv("INVENTORY_CA_FILE", "/path/does/not/exist")

	_, err := CreateTLSConfig("INVENTORY")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading /path/does/not/exist")
}

func TestCreateTLSConfig_NoEnvVarsReturnsZeroValueConfig(t *testing.T) {
	cfg, err := CreateTLSConfig("UNSET_PREFIX")
	require.NoError(t, err)
	assert.Empty(t, cfg.Certificates)
	assert.Nil(t, cfg.RootCAs)
}
