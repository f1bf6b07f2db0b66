// Package cryptoutil verifies published rule sets: content digests are
// compared in constant time and detached signatures are checked against a
// KMS-held public key (ECDSA P-256/P-384 or RSA-PSS).
package cryptoutil
