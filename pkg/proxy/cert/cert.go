// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package cert provides root CA generation, PEM formatting, and
// persistence through a SecretStore so the same CA survives restarts.
package cert

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/secretstore"
)

const caLifetime = 10 * 365 * 24 * time.Hour

// GenerateCA generates a fresh self-signed root CA keypair.
func GenerateCA() (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("cert: generate serial: %w", err)
	}
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Aikido Safe Chain Local CA",
			Organization: []string{"Aikido Safe Chain"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caLifetime),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("cert: generate key: %w", err)
	}
	caBytes, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("cert: create certificate: %w", err)
	}
	ca := &tls.Certificate{Certificate: [][]byte{caBytes}, PrivateKey: priv}
	if ca.Leaf, err = x509.ParseCertificate(caBytes); err != nil {
		return nil, fmt.Errorf("cert: parse generated leaf: %w", err)
	}
	return ca, nil
}

// ToPEM encodes a certificate to PEM format.
func ToPEM(cert *x509.Certificate) []byte {
	b := new(bytes.Buffer)
	pem.Encode(b, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	return b.Bytes()
}

// marshalCA encodes the format persisted under secretstore.RootCAKey: the
// concatenation of the CA certificate PEM block and the PKCS#1 private key
// PEM block, so a single secret value round-trips the whole keypair.
func marshalCA(ca *tls.Certificate) ([]byte, error) {
	rsaKey, ok := ca.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cert: unsupported private key type %T", ca.PrivateKey)
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: ca.Certificate[0]}); err != nil {
		return nil, err
	}
	if err := pem.Encode(&buf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalCA(raw []byte) (*tls.Certificate, error) {
	var certDER []byte
	var keyDER []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = block.Bytes
		case "RSA PRIVATE KEY":
			keyDER = block.Bytes
		}
	}
	if certDER == nil || keyDER == nil {
		return nil, fmt.Errorf("cert: stored root CA missing certificate or key block")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("cert: parse stored key: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("cert: parse stored certificate: %w", err)
	}
	return &tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: key, Leaf: leaf}, nil
}

// LoadOrGenerateCA loads the root CA from store, generating and persisting
// a new one on first run.
func LoadOrGenerateCA(ctx context.Context, store secretstore.Store) (*tls.Certificate, error) {
	raw, ok, err := store.Load(ctx, secretstore.RootCAKey)
	if err != nil {
		return nil, fmt.Errorf("cert: load root CA: %w", err)
	}
	if ok {
		return unmarshalCA(raw)
	}

	ca, err := GenerateCA()
	if err != nil {
		return nil, err
	}
	raw, err = marshalCA(ca)
	if err != nil {
		return nil, err
	}
	if err := store.Store(ctx, secretstore.RootCAKey, raw); err != nil {
		return nil, fmt.Errorf("cert: persist root CA: %w", err)
	}
	return ca, nil
}
