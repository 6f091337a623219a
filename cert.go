package robot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"time"
)

// telemetryALPN 遥测镜像通道的 ALPN
const telemetryALPN = "legctl-telemetry"

// loadCert 加载证书文件；两个路径都为空时生成仅存于内存的自签名证书
func loadCert(certFile, privateFile string) (tls.Certificate, error) {
	if certFile == "" && privateFile == "" {
		return generateSelfSignedCert()
	}

	cert, err := tls.LoadX509KeyPair(certFile, privateFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return cert, nil
}

// generateSelfSignedCert 生成有效期24小时的 ECDSA P-256 自签名证书
func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

func serverTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{telemetryALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// clientTLSConfig 观察端不校验证书，镜像只在可信网络内只读地暴露遥测
func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{telemetryALPN},
		MinVersion:         tls.VersionTLS13,
	}
}
