package i18n

import "testing"

func TestGet_Fallbacks(t *testing.T) {
	c, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Get("contract.created", "ar"); got != "تم إنشاء العقد" {
		t.Fatalf("expected arabic message, got %q", got)
	}
	if got := c.Get("contract.created", "ar-SA"); got != "تم إنشاء العقد" {
		t.Fatalf("expected base-language fallback, got %q", got)
	}
	if got := c.Get("milestone.deleted", "ar"); got != "Milestone deleted" {
		t.Fatalf("expected default-language fallback, got %q", got)
	}
	if got := c.Get("no.such.key", "fr"); got != "no.such.key" {
		t.Fatalf("expected key echoed, got %q", got)
	}
}

func TestNegotiate(t *testing.T) {
	c, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[string]string{
		"":                          "en",
		"fr-FR, ar;q=0.8, en;q=0.5": "ar",
		"en-GB;q=0.4, ar-EG;q=0.9":  "ar",
		"ar;q=0":                    "en",
		"en_US, ar;q=0.5":           "en",
		"ar_SA":                     "ar",
		"*":                         "en",
		"AR-eg":                     "ar",
		"not a;;tag":                "en",
	}
	for header, want := range cases {
		if got := c.Negotiate(header); got != want {
			t.Fatalf("Negotiate(%q): expected %q, got %q", header, want, got)
		}
	}
}

func TestParse_RequiresFallback(t *testing.T) {
	if _, err := Parse([]byte("ar:\n  a: b\n"), "en"); err == nil {
		t.Fatalf("expected missing fallback rejected")
	}
}

func TestParse_RejectsInvalidLanguage(t *testing.T) {
	if _, err := Parse([]byte("en:\n  a: b\n\"not a tag\":\n  a: c\n"), "en"); err == nil {
		t.Fatalf("expected invalid language tag rejected")
	}
}

func TestCatalogCoversErrorCodes(t *testing.T) {
	c, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, key := range []string{
		"contract.monthly_limit_exceeded",
		"dispute.window_expired",
		"dispute.not_in_escrow",
		"commission.global_already_exists",
		"commission.must_keep_one_global",
		"notification.push_failed",
		"common.internal_error",
	} {
		if c.Get(key, "en") == key {
			t.Fatalf("missing english message for %s", key)
		}
	}
}
