package escrow

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIsExpiredBoundary(t *testing.T) {
	rec := Escrow{CreatedAt: 1000, MaxLifetime: 100}

	if rec.IsExpired(1100) {
		t.Fatalf("record should still be valid exactly at the lifetime boundary")
	}
	if !rec.IsExpired(1101) {
		t.Fatalf("record should be expired one second past the boundary")
	}

	rec.MaxLifetime = 0
	if rec.IsExpired(1 << 40) {
		t.Fatalf("zero lifetime must never expire")
	}
}

func TestCanUnpauseBoundary(t *testing.T) {
	rec := Escrow{LastPausedAt: 1000}

	if rec.CanUnpause(1299) {
		t.Fatalf("cooldown should not have elapsed at 1299")
	}
	if !rec.CanUnpause(1300) {
		t.Fatalf("cooldown boundary is inclusive, expected unpause allowed at 1300")
	}

	never := Escrow{}
	if !never.CanUnpause(0) {
		t.Fatalf("a record that was never paused can always unpause")
	}
}

func TestAuthorityMaturityBoundary(t *testing.T) {
	rec := Escrow{PlatformActivatedAt: 1000, TradingActivatedAt: 1000}

	if rec.IsPlatformAuthorityMature(1299) || rec.IsTradingAuthorityMature(1299) {
		t.Fatalf("authority should be immature at 1299")
	}
	if !rec.IsPlatformAuthorityMature(1300) || !rec.IsTradingAuthorityMature(1300) {
		t.Fatalf("maturity boundary is inclusive, expected mature at 1300")
	}

	unset := Escrow{}
	if unset.IsPlatformAuthorityMature(1<<40) || unset.IsTradingAuthorityMature(1<<40) {
		t.Fatalf("never-activated authority must never be mature")
	}
}

func TestFlagToggles(t *testing.T) {
	var rec Escrow

	rec.SetPlatformActive(true)
	if !rec.IsPlatformActive() || rec.IsTradingActive() || rec.IsPaused() {
		t.Fatalf("unexpected flags after platform activation: %08b", rec.Flags)
	}
	if !rec.HasActiveAuthority() {
		t.Fatalf("platform activation should count as an active authority")
	}

	rec.SetTradingActive(true)
	rec.SetPlatformActive(false)
	if rec.IsPlatformActive() || !rec.IsTradingActive() {
		t.Fatalf("platform deactivation clobbered trading bit: %08b", rec.Flags)
	}

	rec.SetTradingActive(false)
	if rec.HasActiveAuthority() {
		t.Fatalf("no authority should remain active: %08b", rec.Flags)
	}
}

func TestSetPausedStampsOnlyOnPause(t *testing.T) {
	var rec Escrow

	rec.SetPaused(true, 500)
	if !rec.IsPaused() || rec.LastPausedAt != 500 {
		t.Fatalf("pause should stamp LastPausedAt: paused=%v at=%d", rec.IsPaused(), rec.LastPausedAt)
	}

	rec.SetPaused(false, 900)
	if rec.IsPaused() || rec.LastPausedAt != 500 {
		t.Fatalf("unpause must not touch LastPausedAt: paused=%v at=%d", rec.IsPaused(), rec.LastPausedAt)
	}

	// Re-pausing re-stamps, so a later unpause waits out the newest pause.
	rec.SetPaused(true, 1200)
	if rec.LastPausedAt != 1200 {
		t.Fatalf("re-pause should re-stamp LastPausedAt, got %d", rec.LastPausedAt)
	}
}

func TestBumpNonceWraps(t *testing.T) {
	rec := Escrow{ActionNonce: ^uint64(0)}
	rec.BumpNonce()
	if rec.ActionNonce != 0 {
		t.Fatalf("nonce should wrap silently, got %d", rec.ActionNonce)
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if id.IsZero() {
		t.Fatalf("parsed identity should not be zero")
	}
	if id.String() != strings.Repeat("ab", 32) {
		t.Fatalf("round trip mismatch: %s", id)
	}

	if _, err := ParseIdentity("ab"); err == nil {
		t.Fatalf("short identity should fail")
	}
	if _, err := ParseIdentity(strings.Repeat("zz", 32)); err == nil {
		t.Fatalf("non-hex identity should fail")
	}
}

func TestIdentityJSONRoundTrip(t *testing.T) {
	id, err := ParseIdentity(strings.Repeat("0f", 32))
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}

	data, err := json.Marshal(struct {
		Owner Identity `json:"owner"`
	}{Owner: id})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), strings.Repeat("0f", 32)) {
		t.Fatalf("identity should marshal as hex: %s", data)
	}

	var decoded struct {
		Owner Identity `json:"owner"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Owner != id {
		t.Fatalf("round trip mismatch: %s", decoded.Owner)
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	owner, err := ParseIdentity(strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}

	first := DeriveAddress(owner, 255)
	second := DeriveAddress(owner, 255)
	if first != second {
		t.Fatalf("derivation must be deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 32-byte hex address, got %d chars", len(first))
	}

	if DeriveAddress(owner, 254) == first {
		t.Fatalf("different salt should derive a different address")
	}

	other, _ := ParseIdentity(strings.Repeat("22", 32))
	if DeriveAddress(other, 255) == first {
		t.Fatalf("different owner should derive a different address")
	}
}
