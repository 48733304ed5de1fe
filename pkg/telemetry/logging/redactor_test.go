package logging

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name    string
		input   string
		leak    string
		wantSub string
	}{
		{"openai key", "using key sk-proj1234567890abcdef", "sk-proj1234567890abcdef", "sk-***"},
		{"email", "notify partner@lawfirm.com now", "partner@lawfirm.com", "***@***"},
		{"ssn", "client ssn 123-45-6789", "123-45-6789", "***-**-****"},
		{"bearer", "Authorization: Bearer abc.def.ghi", "abc.def.ghi", "Bearer ***"},
		{"password", "password=hunter2", "hunter2", "password: ***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RedactString(tt.input)
			if strings.Contains(got, tt.leak) {
				t.Errorf("RedactString(%q) = %q, still contains %q", tt.input, got, tt.leak)
			}
			if !strings.Contains(got, tt.wantSub) {
				t.Errorf("RedactString(%q) = %q, want substring %q", tt.input, got, tt.wantSub)
			}
		})
	}
}

func TestRedactor_RedactAttr(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"response digested", slog.String("response", "privileged"), Digest("privileged")},
		{"token masked", slog.String("lease_token", "abcdef123"), "abcd***"},
		{"short secret", slog.String("secret", "abc"), "***"},
		{"error scanned", slog.Any("error", errors.New("mail a@b.com failed")), "mail ***@*** failed"},
		{"plain passes", slog.String("model", "gpt-4o"), "gpt-4o"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RedactAttr(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got.Value.String())
			}
		})
	}
}

func TestRedactor_RedactAttr_Group(t *testing.T) {
	r := NewRedactor()

	a := r.RedactAttr(slog.Group("req", slog.String("prompt", "secret facts"), slog.Int("tokens", 12)))
	group := a.Value.Group()
	if len(group) != 2 {
		t.Fatalf("Expected 2 group attrs, got %d", len(group))
	}
	if group[0].Value.String() != Digest("secret facts") {
		t.Errorf("Expected prompt digest inside group, got %q", group[0].Value.String())
	}
	if group[1].Value.Int64() != 12 {
		t.Errorf("Expected tokens untouched, got %v", group[1].Value)
	}
}

func TestRedactor_NonStringUntouched(t *testing.T) {
	r := NewRedactor()
	a := r.RedactAttr(slog.Float64("cost_cents", 12.5))
	if a.Value.Float64() != 12.5 {
		t.Errorf("Expected 12.5, got %v", a.Value)
	}
}

func TestDigest_Stable(t *testing.T) {
	if Digest("abc") != Digest("abc") {
		t.Error("digest should be deterministic")
	}
	if Digest("abc") == Digest("abd") {
		t.Error("different content should produce different digests")
	}
	if !strings.HasPrefix(Digest("abc"), "len=3 ") {
		t.Errorf("unexpected digest format %q", Digest("abc"))
	}
}
