package mitm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mitmrw/mitmrw/internal/metrics"
)

const (
	DefaultCertCacheSize = 1024
	leafLifetime         = 365 * 24 * time.Hour
	// leafRenewBefore keeps a cached leaf from being served right before
	// it expires.
	leafRenewBefore = 24 * time.Hour
)

// CertManager generates leaf certificates signed by the CA and keeps the
// most recently used ones in an LRU cache. It is safe for concurrent use.
type CertManager struct {
	ca      *CA
	cache   *lru.Cache[string, *tls.Certificate]
	metrics *metrics.Metrics
}

// NewCertManager returns a manager caching up to size leaves. m may be nil.
func NewCertManager(ca *CA, size int, m *metrics.Metrics) (*CertManager, error) {
	if size <= 0 {
		size = DefaultCertCacheSize
	}
	cache, err := lru.New[string, *tls.Certificate](size)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &CertManager{
		ca:      ca,
		cache:   cache,
		metrics: m,
	}, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := hello.ServerName
	if host == "" {
		host = "localhost"
	}
	return cm.GetCertificateForHost(host)
}

func (cm *CertManager) GetCertificateForHost(host string) (*tls.Certificate, error) {
	host = strings.ToLower(strings.Trim(host, "[]"))
	if cached, ok := cm.cache.Get(host); ok && time.Until(cached.Leaf.NotAfter) > leafRenewBefore {
		return cached, nil
	}

	if cm.metrics != nil {
		cm.metrics.CertCacheMisses.Inc()
	}
	cert, err := cm.generateCert(host)
	if err != nil {
		return nil, err
	}
	cm.cache.Add(host, cert)
	return cert, nil
}

func (cm *CertManager) Len() int {
	return cm.cache.Len()
}

func (cm *CertManager) generateCert(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf key: %w", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   host,
			Organization: []string{"mitmrw"},
		},
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().Add(leafLifetime),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, cm.ca.Certificate, &key.PublicKey, cm.ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER, cm.ca.Certificate.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
