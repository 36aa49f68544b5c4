package flow

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %s", err)
		return nil
	}
	return key
}

func generateCert(t *testing.T, tmpl *x509.Certificate, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) []byte {
	t.Helper()
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serialNumber: %s", err)
	}
	tmpl.SerialNumber = serialNumber
	tmpl.NotBefore = time.Now()
	tmpl.NotAfter = time.Now().Add(1 * time.Hour)
	tmpl.IPAddresses = []net.IP{{127, 0, 0, 1}}
	tmpl.BasicConstraintsValid = true
	if parent == nil {
		parent = tmpl
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("failed to generate certificate %s: %s", tmpl.Subject.CommonName, err)
		return nil
	}
	return certDER
}

// testTLS returns a server and a client configuration trusting the same
// self-signed CA.
func testTLS(t *testing.T) (*tls.Config, *tls.Config) {
	t.Helper()
	caKey := generateKeyPair(t)
	caDER := generateCert(t, &x509.Certificate{
		Subject:  pkix.Name{CommonName: "self-signed"},
		KeyUsage: x509.KeyUsageCertSign,
		IsCA:     true,
	}, nil, &caKey.PublicKey, caKey)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey := generateKeyPair(t)
	leafDER := generateCert(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "store"},
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, ca, &leafKey.PublicKey, caKey)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	caPool := x509.NewCertPool()
	caPool.AddCert(ca)

	server := &tls.Config{
		Certificates: []tls.Certificate{
			{
				Certificate: [][]byte{leafDER},
				Leaf:        leaf,
				PrivateKey:  leafKey,
			},
		},
	}
	client := &tls.Config{
		RootCAs: caPool,
	}
	return server, client
}

func TestQUICFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverTLS, clientTLS := testTLS(t)
	ln, err := ListenQUIC("127.0.0.1:0", serverTLS, nil)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan Raw, 1)
	go func() {
		raw, err := ln.Accept(ctx)
		if err != nil {
			t.Errorf("failed to accept: %s", err)
			return
		}
		accepted <- raw
	}()

	client, err := DialQUIC(ctx, ln.Addr().String(), clientTLS, nil)
	require.NoError(t, err)

	clientSender := NewSender[*note](client, NewStructCodec[*note](false), 4)
	clientReceiver := NewReceiver[*note](client, NewStructCodec[*note](false), 4)

	// the stream is only visible to the server once data flows.
	require.NoError(t, clientSender.Send(ctx, &note{Text: "hello", N: 42}))

	var serverEnd Raw
	select {
	case serverEnd = <-accepted:
	case <-ctx.Done():
		t.Fatal("server never accepted the stream")
	}
	serverSender := NewSender[*note](serverEnd, NewStructCodec[*note](false), 4)
	serverReceiver := NewReceiver[*note](serverEnd, NewStructCodec[*note](false), 4)

	got, err := serverReceiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, &note{Text: "hello", N: 42}, got)

	require.NoError(t, serverSender.Send(ctx, &note{Text: "world", Tags: []string{"t"}}))
	got, err = clientReceiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, &note{Text: "world", Tags: []string{"t"}}, got)

	_ = clientSender.Close()
	_ = clientReceiver.Close()
	_ = serverSender.Close()
	_ = serverReceiver.Close()
}
