package s3

import "testing"

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "exports/owner/caption.txt", want: "exports/owner/caption.txt"},
		{name: "simple prefix", prefix: "brandpost", key: "images/a.png", want: "brandpost/images/a.png"},
		{name: "prefix trailing slash", prefix: "brandpost/", key: "images/a.png", want: "brandpost/images/a.png"},
		{name: "prefix and key slashes", prefix: "/brandpost/", key: "/images/a.png", want: "brandpost/images/a.png"},
		{name: "nested prefix", prefix: "prod/brandpost", key: "uploads/x.pdf", want: "prod/brandpost/uploads/x.pdf"},
		{name: "empty key", prefix: "brandpost", key: "", want: "brandpost"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	if got := normalizePrefix("  /a/b/ "); got != "a/b" {
		t.Fatalf("normalizePrefix = %q", got)
	}
}
