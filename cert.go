// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate reads a client certificate and its private key from path, accepting
// PEM bundles and PKCS#12 (.pfx/.p12) archives. password decrypts encrypted inputs
// and is ignored otherwise. The results go on TokenRequest.Certificate and
// TokenRequest.PrivateKey.
func LoadCertificate(path, password string) (*x509.Certificate, crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read certificate file: %w", err)
	}
	ext := strings.ToLower(path)
	if strings.HasSuffix(ext, ".pfx") || strings.HasSuffix(ext, ".p12") {
		return CertFromPKCS12(data, password)
	}
	return CertFromPEM(data, password)
}

// CertFromPEM extracts the certificate and private key from a PEM bundle. The bundle
// must hold exactly one private key; when it holds a chain, the first certificate is
// the client's.
func CertFromPEM(pemData []byte, password string) (*x509.Certificate, crypto.PrivateKey, error) {
	var cert *x509.Certificate
	var priv crypto.PrivateKey
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}

		//nolint:staticcheck // legacy RFC 1423 keys are still in circulation
		if x509.IsEncryptedPEMBlock(block) {
			if password == "" {
				return nil, nil, fmt.Errorf("encountered encrypted PEM block, but no password was passed")
			}
			//nolint:staticcheck
			b, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return nil, nil, fmt.Errorf("could not decrypt encrypted PEM block: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: b}
		}

		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("block labelled 'CERTIFICATE' could not be parsed by x509: %w", err)
			}
			if cert == nil {
				cert = c
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if priv != nil {
				return nil, nil, fmt.Errorf("found multiple private key blocks")
			}
			var err error
			priv, err = parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not decode private key: %w", err)
			}
		}
		pemData = rest
	}

	if cert == nil {
		return nil, nil, fmt.Errorf("no certificates found")
	}
	if priv == nil {
		return nil, nil, fmt.Errorf("no private key found")
	}
	return cert, priv, nil
}

// CertFromPKCS12 extracts the certificate and private key from a PKCS#12 archive.
func CertFromPKCS12(data []byte, password string) (*x509.Certificate, crypto.PrivateKey, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, fmt.Errorf("could not decode PKCS#12 archive: %w", err)
	}
	return cert, priv, nil
}

// parsePrivateKey decodes a DER private key, trying PKCS#8 first and falling back to
// the older PKCS#1 and SEC 1 encodings.
func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("private key is not PKCS#8, PKCS#1 or SEC 1 encoded")
}
