package httpx

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	sbtls "github.com/HatiCode/sensorboard/pkg/tls"
)

// NewClient creates an HTTP client. When tlsCfg is enabled the client
// verifies the server with it and presents a client certificate if one is
// configured.
func NewClient(tlsCfg sbtls.Config, timeout time.Duration) (*http.Client, error) {
	var cryptoTLSConfig *tls.Config
	if tlsCfg.Enabled {
		var err error
		cryptoTLSConfig, err = sbtls.NewClientTLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     cryptoTLSConfig,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
