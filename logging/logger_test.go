package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactsSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := Wrap(zap.New(core))

	log.Info("otp issued", "otp", "123456", "mobile", "+15551234567", "access_token", "abc", "status_code", 200, "contract_id", 9)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["otp"] != "[REDACTED]" || fields["access_token"] != "[REDACTED]" {
		t.Fatalf("expected secrets redacted, got %+v", fields)
	}
	if fields["mobile"] != "*********567" {
		t.Fatalf("expected masked mobile, got %v", fields["mobile"])
	}
	if fields["status_code"] != int64(200) || fields["contract_id"] != int64(9) {
		t.Fatalf("expected plain values untouched, got %+v", fields)
	}
}

func TestMaskMobile(t *testing.T) {
	if got := MaskMobile("12"); got != "**" {
		t.Fatalf("expected short value fully masked, got %q", got)
	}
	if got := MaskMobile("0501234567"); got != "*******567" {
		t.Fatalf("unexpected mask %q", got)
	}
}
