package providers

import (
	"errors"
	"testing"
)

func specFor(t *testing.T, p Provider) Spec {
	t.Helper()
	for _, s := range DefaultSpecs() {
		if s.Provider == p {
			return s
		}
	}
	t.Fatalf("no spec for %s", p)
	return Spec{}
}

func TestSpec_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		input    string
		expected string
		wantErr  bool
	}{
		{name: "CBE Bare", provider: CBE, input: "FT253423SGLG32348645", expected: "FT253423SGLG32348645"},
		{name: "CBE Lowercase", provider: CBE, input: " ft253423sglg32348645 ", expected: "FT253423SGLG32348645"},
		{name: "CBE URL With Port", provider: CBE, input: "https://apps.cbe.com.et:100/?id=FT253423SGLG32348645", expected: "FT253423SGLG32348645"},
		{name: "CBE URL Without Scheme", provider: CBE, input: "apps.cbe.com.et/?id=FT253423SGLG32348645", expected: "FT253423SGLG32348645"},
		{name: "CBE Too Short", provider: CBE, input: "FT12345", wantErr: true},
		{name: "CBE Wrong Prefix", provider: CBE, input: "AB253423SGLG32348645", wantErr: true},
		{name: "CBE Foreign Host", provider: CBE, input: "https://evil.example.com/?id=FT253423SGLG32348645", wantErr: true},
		{name: "CBE URL Missing Id", provider: CBE, input: "https://apps.cbe.com.et/?foo=bar", wantErr: true},
		{name: "BOA URL", provider: BOA, input: "https://cs.bankofabyssinia.com/slip/?trx=FT23062669JJ", expected: "FT23062669JJ"},
		{name: "Telebirr Bare", provider: Telebirr, input: "ce12ab34", expected: "CE12AB34"},
		{name: "Telebirr Receipt URL", provider: Telebirr, input: "https://transactioninfo.ethiotelecom.et/receipt/CE12AB34", expected: "CE12AB34"},
		{name: "Telebirr Too Short", provider: Telebirr, input: "AB12", wantErr: true},
		{name: "Awash Dashed", provider: Awash, input: "2510-0123-45", expected: "2510-0123-45"},
		{name: "Awash Query URL", provider: Awash, input: "https://awashpay.awashbank.com/receipt?id=251001234567", expected: "251001234567"},
		{name: "Awash Path URL", provider: Awash, input: "https://awashpay.awashbank.com/receipt/251001234567/", expected: "251001234567"},
		{name: "Dashen URL", provider: Dashen, input: "https://receipt.dashensuperapp.com/receipt/071ABCD2512345", expected: "071ABCD2512345"},
		{name: "Empty", provider: Dashen, input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := specFor(t, tt.provider).Normalize(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrFormat) {
					t.Fatalf("Normalize() error = %v, want ErrFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Normalize() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSpec_URLMatchesBareReference(t *testing.T) {
	spec := specFor(t, CBE)

	fromURL, err := spec.Normalize("https://apps.cbe.com.et:100/?id=FT253423SGLG32348645")
	if err != nil {
		t.Fatalf("Normalize(url) error = %v", err)
	}
	bare, err := spec.Normalize("FT253423SGLG32348645")
	if err != nil {
		t.Fatalf("Normalize(bare) error = %v", err)
	}
	if fromURL != bare {
		t.Errorf("url reference %q differs from bare %q", fromURL, bare)
	}
}

func TestParseProvider(t *testing.T) {
	if p, err := ParseProvider(" telebirr "); err != nil || p != Telebirr {
		t.Errorf("ParseProvider() = %v, %v", p, err)
	}
	if _, err := ParseProvider("paypal"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}
