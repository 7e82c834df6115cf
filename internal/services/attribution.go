package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/storage"
)

// CollectAttribution builds attribution metadata from the landing URL and the
// user agent. Unknown query parameters are ignored; the well-known marketing
// parameters are lifted into named fields.
func CollectAttribution(pageURL, userAgent string, now time.Time) domain.Attribution {
	attr := domain.Attribution{
		UserAgent:   strings.TrimSpace(userAgent),
		DeviceType:  deviceType(userAgent),
		FirstSeenAt: now.UTC(),
	}

	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return attr
	}
	attr.Domain = parsed.Hostname()

	query := parsed.Query()
	attr.UTMSource = query.Get("utm_source")
	attr.UTMMedium = query.Get("utm_medium")
	attr.UTMCampaign = query.Get("utm_campaign")
	attr.UTMTerm = query.Get("utm_term")
	attr.UTMContent = query.Get("utm_content")
	attr.Funnel = query.Get("funnel")
	attr.Gclid = query.Get("gclid")
	attr.AffiliateID = query.Get("affid")
	if attr.AffiliateID == "" {
		attr.AffiliateID = query.Get("aff_id")
	}
	return attr
}

// LoadAttribution reads the persisted attribution slot. A first visit returns
// ok=false, not an error.
func LoadAttribution(ctx context.Context, store storage.SnapshotStore) (domain.Attribution, bool, error) {
	data, err := store.Read(ctx, storage.SlotAttribution)
	if err != nil {
		if errors.Is(err, storage.ErrSlotNotFound) {
			return domain.Attribution{}, false, nil
		}
		return domain.Attribution{}, false, err
	}
	var attr domain.Attribution
	if err := json.Unmarshal(data, &attr); err != nil {
		return domain.Attribution{}, false, err
	}
	return attr, true, nil
}

// MergeAttribution keeps the first-touch values and fills gaps from the
// current visit.
func MergeAttribution(stored, current domain.Attribution) domain.Attribution {
	merged := stored
	if merged.UTMSource == "" {
		merged.UTMSource = current.UTMSource
	}
	if merged.UTMMedium == "" {
		merged.UTMMedium = current.UTMMedium
	}
	if merged.UTMCampaign == "" {
		merged.UTMCampaign = current.UTMCampaign
	}
	if merged.UTMTerm == "" {
		merged.UTMTerm = current.UTMTerm
	}
	if merged.UTMContent == "" {
		merged.UTMContent = current.UTMContent
	}
	if merged.Funnel == "" {
		merged.Funnel = current.Funnel
	}
	if merged.Gclid == "" {
		merged.Gclid = current.Gclid
	}
	if merged.AffiliateID == "" {
		merged.AffiliateID = current.AffiliateID
	}
	merged.UserAgent = current.UserAgent
	merged.DeviceType = current.DeviceType
	merged.Domain = current.Domain
	if merged.FirstSeenAt.IsZero() {
		merged.FirstSeenAt = current.FirstSeenAt
	}
	return merged
}

func deviceType(userAgent string) string {
	lowered := strings.ToLower(userAgent)
	switch {
	case lowered == "":
		return ""
	case strings.Contains(lowered, "mobi"), strings.Contains(lowered, "android"):
		return "mobile"
	case strings.Contains(lowered, "ipad"), strings.Contains(lowered, "tablet"):
		return "tablet"
	default:
		return "desktop"
	}
}
