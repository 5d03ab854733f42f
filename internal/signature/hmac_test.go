package signature

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"shop_domain":"foo.myshop.com","id":1}`)
	sig := Sign(secret, body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{name: "valid plain hex", secret: secret, body: body, signature: sig, want: true},
		{name: "valid prefixed", secret: secret, body: body, signature: "sha256=" + sig, want: true},
		{name: "valid uppercase hex", secret: secret, body: body, signature: strings.ToUpper(sig), want: true},
		{name: "tampered body", secret: secret, body: []byte(`{"shop_domain":"bar.myshop.com","id":1}`), signature: sig, want: false},
		{name: "wrong secret", secret: "other", body: body, signature: sig, want: false},
		{name: "empty secret", secret: "", body: body, signature: sig, want: false},
		{name: "empty signature", secret: secret, body: body, signature: "", want: false},
		{name: "malformed hex", secret: secret, body: body, signature: "not-hex", want: false},
		{name: "truncated digest", secret: secret, body: body, signature: sig[:32], want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.secret, tt.body, tt.signature))
		})
	}
}

func TestVerifySingleByteMutation(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"shop_domain":"foo.myshop.com"}`)
	sig := Sign(secret, body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, Verify(secret, mutated, sig), "mutation at byte %d verified", i)
	}
}

func TestCanonicalQuery(t *testing.T) {
	params := url.Values{
		"shop":      {"example.myshop.com"},
		"code":      {"abc123"},
		"hmac":      {"deadbeef"},
		"signature": {"ignored"},
		"timestamp": {"1700000000"},
		"state":     {"xyz"},
	}

	got := string(CanonicalQuery(params))
	assert.Equal(t, "code=abc123&shop=example.myshop.com&state=xyz&timestamp=1700000000", got)
}

func TestVerifyQuery(t *testing.T) {
	secret := "client-secret"
	params := url.Values{
		"code":  {"abc"},
		"shop":  {"example.myshop.com"},
		"state": {"nonce"},
		"host":  {"YWRtaW4uZXhhbXBsZQ"},
	}
	params.Set("hmac", Sign(secret, CanonicalQuery(params)))

	assert.True(t, VerifyQuery(secret, params))

	// A single flipped bit in any signed parameter must fail.
	for key := range params {
		if key == "hmac" {
			continue
		}
		tampered := url.Values{}
		for k, v := range params {
			tampered[k] = append([]string(nil), v...)
		}
		b := []byte(tampered.Get(key))
		b[0] ^= 0x01
		tampered.Set(key, string(b))
		assert.False(t, VerifyQuery(secret, tampered), "tampered %q verified", key)
	}
}
