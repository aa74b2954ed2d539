package license

import (
	"strings"
	"testing"
)

func TestGenerateKeyFormat(t *testing.T) {
	key, err := GenerateKey("EMBP")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !ValidKeyFormat(key) {
		t.Errorf("generated key %q does not match the key format", key)
	}
	if !strings.HasPrefix(key, "EMBP-") {
		t.Errorf("key %q missing prefix", key)
	}

	// No ambiguous characters in the random groups
	for _, group := range strings.Split(key, "-")[1:] {
		for _, ch := range group {
			if !strings.ContainsRune(keyCharset, ch) {
				t.Errorf("key group %q contains character %q outside the charset", group, ch)
			}
		}
	}
}

func TestGenerateKeyUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := GenerateKey("EMBP")
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestValidKeyFormat(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"EMBP-ABCD-EFGH-JKMN-PQRS", true},
		{"AB-2345-6789-WXYZ-ABCD", true},
		{"", false},
		{"EMBP-ABCD-EFGH-JKMN", false},             // too few groups
		{"EMBP-ABCD-EFGH-JKMN-PQRS-TUVW", false},   // too many groups
		{"embp-abcd-efgh-jkmn-pqrs", false},        // lowercase
		{"EMBP-AB0D-EFGH-JKMN-PQRS", false},        // ambiguous zero
		{"EMBP-ABCD-EFGH-JKMN-PQR", false},         // short group
		{"TOOLONGPREFIX-ABCD-EFGH-JKMN-PQRS", false},
	}

	for _, tt := range tests {
		if got := ValidKeyFormat(tt.key); got != tt.want {
			t.Errorf("ValidKeyFormat(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"EMBP-ABCD-EFGH-JKMN-PQRS", "EMBP-ABCD-****"},
		{"short", "shor****"},
		{"ab", "****"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.key); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
