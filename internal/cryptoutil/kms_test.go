package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type fakeKMS struct {
	der   []byte
	usage kmstypes.KeyUsageType
	err   error
	calls atomic.Int32
}

func (f *fakeKMS) GetPublicKey(_ context.Context, _ *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GetPublicKeyOutput{PublicKey: f.der, KeyUsage: f.usage}, nil
}

func fakeFor(t *testing.T, pub crypto.PublicKey) *fakeKMS {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return &fakeKMS{der: der, usage: kmstypes.KeyUsageTypeSignVerify}
}

const testARN = "arn:aws:kms:us-east-2:000000000000:key/ruleset"

func TestVerifySignature_ECDSA(t *testing.T) {
	msg := []byte("dependency_dir = \"node_modules/\"\n")

	for _, tc := range []struct {
		name   string
		curve  elliptic.Curve
		digest func([]byte) []byte
	}{
		{"P256", elliptic.P256(), func(b []byte) []byte { d := sha256.Sum256(b); return d[:] }},
		{"P384", elliptic.P384(), func(b []byte) []byte { d := sha512.Sum384(b); return d[:] }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			key, err := ecdsa.GenerateKey(tc.curve, rand.Reader)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			sig, err := ecdsa.SignASN1(rand.Reader, key, tc.digest(msg))
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			v := NewKMSVerifier(fakeFor(t, &key.PublicKey), testARN)

			if err := v.VerifySignature(context.Background(), msg, sig); err != nil {
				t.Fatalf("valid signature rejected: %v", err)
			}
			if err := v.VerifySignature(context.Background(), append(msg, '#'), sig); err == nil {
				t.Fatal("tampered message accepted")
			}
		})
	}
}

func TestVerifySignature_ECDSA_UnsupportedCurve(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v := NewKMSVerifier(fakeFor(t, &key.PublicKey), testARN)
	if err := v.VerifySignature(context.Background(), []byte("x"), []byte("sig")); err == nil {
		t.Fatal("P-521 should be rejected")
	}
}

func TestVerifySignature_RSAPSSOnly(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("[[family]]\nname = \"framework-core\"\n")
	d := sha256.Sum256(msg)
	v := NewKMSVerifier(fakeFor(t, &key.PublicKey), testARN)

	pss, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, d[:], nil)
	if err != nil {
		t.Fatalf("sign pss: %v", err)
	}
	if err := v.VerifySignature(context.Background(), msg, pss); err != nil {
		t.Fatalf("PSS rejected: %v", err)
	}

	pkcs, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, d[:])
	if err != nil {
		t.Fatalf("sign pkcs1v15: %v", err)
	}
	if err := v.VerifySignature(context.Background(), msg, pkcs); err == nil {
		t.Fatal("PKCS1v15 signature accepted")
	}
}

func TestPublicKey_CachedAfterFirstFetch(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	f := fakeFor(t, &key.PublicKey)
	v := NewKMSVerifier(f, testARN)

	for i := 0; i < 3; i++ {
		if _, err := v.PublicKey(context.Background()); err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("GetPublicKey calls = %d, want 1", n)
	}
}

func TestPublicKey_Errors(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	wrongUsage := fakeFor(t, &key.PublicKey)
	wrongUsage.usage = kmstypes.KeyUsageTypeEncryptDecrypt

	apiErr := errors.New("AccessDeniedException")

	for name, f := range map[string]KeyFetcher{
		"nil client":  nil,
		"api error":   &fakeKMS{err: apiErr},
		"wrong usage": wrongUsage,
		"bad der":     &fakeKMS{der: []byte("junk"), usage: kmstypes.KeyUsageTypeSignVerify},
	} {
		t.Run(name, func(t *testing.T) {
			v := NewKMSVerifier(f, testARN)
			if _, err := v.PublicKey(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	v := NewKMSVerifier(&fakeKMS{err: apiErr}, testARN)
	if err := v.VerifySignature(context.Background(), nil, nil); !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want wrapped api error", err)
	}
}

func TestDecodeSignature(t *testing.T) {
	raw := []byte{0x30, 0x45, 0x02, 0x20, 0xff}
	enc := base64.StdEncoding.EncodeToString(raw) + "\n"

	got, err := DecodeSignature([]byte(enc))
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("decoded = %x", got)
	}
	for _, bad := range []string{"", "  \n", "not base64!"} {
		if _, err := DecodeSignature([]byte(bad)); err == nil {
			t.Errorf("DecodeSignature(%q) = nil error", bad)
		}
	}
}

var _ Verifier = (*KMSVerifier)(nil)
