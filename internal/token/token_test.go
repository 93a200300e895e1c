package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sharedToken = "correct-horse-battery-staple-0123456789"

func TestVerify_SameToken(t *testing.T) {
	salts := [][]byte{
		[]byte("saltsaltsaltsalt"),
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		[]byte("another-salt-val"),
	}
	for _, salt := range salts {
		encoded := HashWithSalt(sharedToken, salt)
		if err := Verify(encoded, sharedToken); err != nil {
			t.Errorf("salt %x: expected hash to verify, got %v", salt, err)
		}
	}
}

func TestVerify_DifferentToken(t *testing.T) {
	salts := [][]byte{
		[]byte("saltsaltsaltsalt"),
		[]byte("another-salt-val"),
	}
	others := []string{
		sharedToken + "x",
		strings.ToUpper(sharedToken),
		"",
	}
	for _, salt := range salts {
		encoded := HashWithSalt(sharedToken, salt)
		for _, other := range others {
			if err := Verify(encoded, other); !errors.Is(err, ErrMismatch) {
				t.Errorf("salt %x token %q: got %v, want ErrMismatch", salt, other, err)
			}
		}
	}
}

func TestHash_FreshSaltEachTime(t *testing.T) {
	a, err := Hash(sharedToken)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := Hash(sharedToken)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == b {
		t.Fatal("expected two hashes of the same token to differ")
	}
	if err := Verify(a, sharedToken); err != nil {
		t.Errorf("verify a: %v", err)
	}
	if err := Verify(b, sharedToken); err != nil {
		t.Errorf("verify b: %v", err)
	}
}

func TestHash_PHCFormat(t *testing.T) {
	encoded := HashWithSalt(sharedToken, []byte("saltsaltsaltsalt"))
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Errorf("unexpected encoding prefix: %s", encoded)
	}
}

func TestVerify_Malformed(t *testing.T) {
	valid := HashWithSalt(sharedToken, []byte("saltsaltsaltsalt"))
	parts := strings.Split(valid, "$")

	cases := map[string]string{
		"empty":         "",
		"plaintext":     sharedToken,
		"wrong algo":    strings.Replace(valid, "argon2id", "argon2i", 1),
		"wrong version": strings.Replace(valid, "v=19", "v=16", 1),
		"huge memory":   strings.Replace(valid, "m=19456", "m=4194304", 1),
		"max cost":      strings.Replace(valid, "m=19456,t=2,p=1", "m=65536,t=8,p=8", 1),
		"cheap cost":    strings.Replace(valid, "m=19456,t=2,p=1", "m=8,t=1,p=1", 1),
		"short hash":    strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], parts[5][:22]}, "$"),
		"zero time":     strings.Replace(valid, "t=2", "t=0", 1),
		"bad salt":      strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"missing hash":  strings.Join(parts[:5], "$"),
	}
	for name, encoded := range cases {
		if err := Verify(encoded, sharedToken); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", name, err)
		}
	}
}

// A sender choosing its own argon2 cost is rejected before any hashing, so
// the check takes no measurable time.
func TestVerify_RejectsForeignCostQuickly(t *testing.T) {
	salt := []byte("saltsaltsaltsalt")
	key := make([]byte, KeySize)
	encoded := "$argon2id$v=19$m=65536,t=8,p=8$" + b64.EncodeToString(salt) + "$" + b64.EncodeToString(key)

	start := time.Now()
	err := Verify(encoded, sharedToken)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("rejection took %v; expected no key derivation", elapsed)
	}
}
