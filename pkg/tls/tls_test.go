package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a self-signed certificate and key and returns
// their paths. The certificate doubles as its own CA.
func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sensorboard-test"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestConfig_Validate(t *testing.T) {
	cert, key := writeSelfSigned(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "ca only", cfg: Config{Enabled: true, CAFile: cert}},
		{name: "cert and key", cfg: Config{Enabled: true, CertFile: cert, KeyFile: key}},
		{name: "cert without key", cfg: Config{Enabled: true, CertFile: cert}, wantErr: true},
		{name: "missing file", cfg: Config{Enabled: true, CAFile: "/nonexistent/ca.pem"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewServerTLSConfig(t *testing.T) {
	cert, key := writeSelfSigned(t)

	cfg, err := NewServerTLSConfig(Config{Enabled: true, CertFile: cert, KeyFile: key})
	if err != nil {
		t.Fatalf("NewServerTLSConfig: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d", len(cfg.Certificates))
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("ClientAuth = %v without CA", cfg.ClientAuth)
	}

	mtls, err := NewServerTLSConfig(Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert})
	if err != nil {
		t.Fatalf("NewServerTLSConfig with CA: %v", err)
	}
	if mtls.ClientAuth != tls.RequireAndVerifyClientCert || mtls.ClientCAs == nil {
		t.Error("CA did not enable client verification")
	}

	if _, err := NewServerTLSConfig(Config{Enabled: true, CAFile: cert}); err == nil {
		t.Error("expected error without cert and key")
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	cert, key := writeSelfSigned(t)

	cfg, err := NewClientTLSConfig(Config{Enabled: true, CAFile: cert})
	if err != nil {
		t.Fatalf("NewClientTLSConfig: %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 0 {
		t.Errorf("unexpected client config: roots=%v certs=%d", cfg.RootCAs != nil, len(cfg.Certificates))
	}

	cfg, err = NewClientTLSConfig(Config{Enabled: true, CertFile: cert, KeyFile: key})
	if err != nil {
		t.Fatalf("NewClientTLSConfig with cert: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.RootCAs != nil {
		t.Error("client cert not loaded or unexpected roots")
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClientTLSConfig(Config{Enabled: true, CAFile: bad}); err == nil {
		t.Error("expected error for unparsable CA")
	}
}
