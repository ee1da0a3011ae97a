package secrets

import (
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBoxFromHex(testKey)
	if err != nil {
		t.Fatalf("NewBoxFromHex() error = %v", err)
	}

	sealed, err := box.Seal("whsec_abc123")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "whsec_abc123") {
		t.Fatal("ciphertext contains plaintext")
	}

	again, _ := box.Seal("whsec_abc123")
	if again == sealed {
		t.Error("expected distinct ciphertexts for repeated seals")
	}

	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "whsec_abc123" {
		t.Errorf("Open() = %q", plain)
	}
}

func TestBox_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "Not Hex", key: "zz"},
		{name: "Short", key: "0001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBoxFromHex(tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}

	box, _ := NewBoxFromHex(testKey)
	if _, err := box.Open("!!!"); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if _, err := box.Open("AAAA"); err != ErrMalformed {
		t.Errorf("expected ErrMalformed for short input, got %v", err)
	}

	other, _ := NewBoxFromHex(strings.Repeat("ff", 32))
	sealed, _ := other.Seal("secret")
	if _, err := box.Open(sealed); err == nil {
		t.Error("expected error opening with wrong key")
	}
}
