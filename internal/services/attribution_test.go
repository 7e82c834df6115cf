package services

import (
	"testing"
	"time"
)

func TestCollectAttributionLiftsMarketingParams(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	attr := CollectAttribution(
		"https://shop.example.com/landing?utm_source=meta&utm_campaign=spring&gclid=abc123&aff_id=77",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148",
		now,
	)

	if attr.UTMSource != "meta" || attr.UTMCampaign != "spring" {
		t.Fatalf("utm mismatch: %+v", attr)
	}
	if attr.Gclid != "abc123" {
		t.Fatalf("expected gclid, got %q", attr.Gclid)
	}
	if attr.AffiliateID != "77" {
		t.Fatalf("expected aff_id alias, got %q", attr.AffiliateID)
	}
	if attr.Domain != "shop.example.com" {
		t.Fatalf("expected domain, got %q", attr.Domain)
	}
	if attr.DeviceType != "mobile" {
		t.Fatalf("expected mobile device, got %q", attr.DeviceType)
	}
	if !attr.FirstSeenAt.Equal(now) {
		t.Fatalf("expected first seen %v, got %v", now, attr.FirstSeenAt)
	}
}

func TestMergeAttributionKeepsFirstTouch(t *testing.T) {
	stored := CollectAttribution("https://shop.example.com/?utm_source=email", "agent", time.Now())
	current := CollectAttribution("https://shop.example.com/?utm_source=meta&gclid=z9", "newer agent", time.Now())

	merged := MergeAttribution(stored, current)
	if merged.UTMSource != "email" {
		t.Fatalf("expected first-touch source kept, got %q", merged.UTMSource)
	}
	if merged.Gclid != "z9" {
		t.Fatalf("expected gap filled from current visit, got %q", merged.Gclid)
	}
	if merged.UserAgent != "newer agent" {
		t.Fatalf("expected user agent refreshed, got %q", merged.UserAgent)
	}
}
