// SPDX-License-Identifier: GPL-3.0-or-later

package quicsock

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{}).validate())
	assert.Error(t, (&Config{Address: "127.0.0.1:0", CertFile: "cert.pem"}).validate())
	assert.Error(t, (&Config{Address: "127.0.0.1:0", MaxIdleTimeout: -1}).validate())
	assert.NoError(t, (&Config{Address: "127.0.0.1:0"}).validate())
}

func TestConfigTLS(t *testing.T) {
	now := time.Now()

	t.Run("self-signed", func(t *testing.T) {
		conf, err := (&Config{}).tlsConfig(now)
		require.NoError(t, err)
		require.Len(t, conf.Certificates, 1)
		assert.Equal(t, []string{ALPN}, conf.NextProtos)
		assert.Equal(t, uint16(tls.VersionTLS13), conf.MinVersion)

		leaf := conf.Certificates[0].Leaf
		require.NotNil(t, leaf)
		assert.Equal(t, []string{ALPN}, leaf.DNSNames)
		assert.True(t, leaf.NotAfter.After(now))
	})

	t.Run("explicit config is cloned", func(t *testing.T) {
		orig := &tls.Config{NextProtos: []string{"h3"}}
		conf, err := (&Config{TLSConfig: orig}).tlsConfig(now)
		require.NoError(t, err)
		assert.Equal(t, []string{"h3", ALPN}, conf.NextProtos)
		assert.Equal(t, []string{"h3"}, orig.NextProtos)
	})

	t.Run("certificate files", func(t *testing.T) {
		cert, err := newSelfSignedCert(now)
		require.NoError(t, err)
		dir := t.TempDir()
		certFile := filepath.Join(dir, "cert.pem")
		keyFile := filepath.Join(dir, "key.pem")
		certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
		require.NoError(t, os.WriteFile(certFile, certPEM, 0600))
		keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
		require.NoError(t, err)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
		require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))

		conf, err := (&Config{CertFile: certFile, KeyFile: keyFile}).tlsConfig(now)
		require.NoError(t, err)
		require.Len(t, conf.Certificates, 1)
		assert.Equal(t, cert.Certificate[0], conf.Certificates[0].Certificate[0])
	})

	t.Run("missing certificate files", func(t *testing.T) {
		dir := t.TempDir()
		_, err := (&Config{
			CertFile: filepath.Join(dir, "cert.pem"),
			KeyFile:  filepath.Join(dir, "key.pem"),
		}).tlsConfig(now)
		assert.Error(t, err)
	})
}

func TestConfigQUIC(t *testing.T) {
	conf := (&Config{}).quicConfig()
	assert.True(t, conf.EnableDatagrams)
	assert.Equal(t, DefaultHandshakeTimeout, conf.HandshakeIdleTimeout)
	assert.Equal(t, DefaultMaxIdleTimeout, conf.MaxIdleTimeout)

	conf = (&Config{HandshakeTimeout: time.Second, MaxIdleTimeout: time.Minute}).quicConfig()
	assert.Equal(t, time.Second, conf.HandshakeIdleTimeout)
	assert.Equal(t, time.Minute, conf.MaxIdleTimeout)
}
