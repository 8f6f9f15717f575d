package hashing

import (
	"errors"
	"strings"
	"testing"

	"shadowlog/internal/config"
)

func testHasher() *Hasher {
	return NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	}})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("unexpected encoding %q", encoded)
	}

	ok, err := h.VerifyPassword("correct horse", encoded)
	if err != nil || !ok {
		t.Errorf("VerifyPassword(right) = %v, %v", ok, err)
	}
	ok, err = h.VerifyPassword("wrong horse", encoded)
	if err != nil || ok {
		t.Errorf("VerifyPassword(wrong) = %v, %v", ok, err)
	}

	again, _ := h.HashPassword("correct horse")
	if again == encoded {
		t.Error("two hashes of the same password share a salt")
	}
}

func TestVerifyUsesEncodedParams(t *testing.T) {
	weak := testHasher()
	encoded, err := weak.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	strong := NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost: 2048, Argon2TimeCost: 2, Argon2Parallelism: 2,
	}})
	if ok, err := strong.VerifyPassword("pw", encoded); err != nil || !ok {
		t.Errorf("VerifyPassword across params = %v, %v", ok, err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := testHasher()
	tests := []struct {
		encoded string
		want    error
	}{
		{"", ErrInvalidHash},
		{"plaintext", ErrInvalidHash},
		{"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5", ErrInvalidHash},
		{"$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$a2V5", ErrIncompatibleVersion},
		{"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5", ErrInvalidHash},
		{"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5", ErrInvalidHash},
	}
	for _, tt := range tests {
		if _, err := h.VerifyPassword("pw", tt.encoded); !errors.Is(err, tt.want) {
			t.Errorf("VerifyPassword(%q) error = %v, want %v", tt.encoded, err, tt.want)
		}
	}
}
