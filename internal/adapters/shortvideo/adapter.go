// Package shortvideo adapts the short-video platform search API to the
// normalized creator schema. Search results carry full author profiles, so
// no separate enrichment call exists for this platform.
package shortvideo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/scoutline/creator-discovery/internal/adapters"
	"github.com/scoutline/creator-discovery/internal/creator"
)

// Adapter implements creator.Adapter for the short-video platform.
type Adapter struct {
	client *adapters.Client
}

// New constructs the adapter around a shared API client.
func New(client *adapters.Client) *Adapter {
	return &Adapter{client: client}
}

// Platform returns the adapter's registry tag.
func (a *Adapter) Platform() creator.Platform {
	return creator.PlatformShortVideo
}

type searchResponse struct {
	Videos  []json.RawMessage `json:"videos"`
	HasMore bool              `json:"has_more"`
	Cursor  string            `json:"cursor"`
}

// Fetch retrieves one page of video search results for keyword.
func (a *Adapter) Fetch(ctx context.Context, keyword, cursor string, _ creator.SearchConfig) (creator.FetchPage, error) {
	query := url.Values{"keyword": {keyword}, "count": {"30"}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	var resp searchResponse
	duration, err := a.client.GetJSON(ctx, "/v1/search/videos", query, &resp)
	if err != nil {
		return creator.FetchPage{DurationMs: duration}, fmt.Errorf("shortvideo search %q: %w", keyword, err)
	}
	items := make([]creator.RawItem, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		items = append(items, creator.RawItem(v))
	}
	return creator.FetchPage{
		Items:      items,
		HasMore:    resp.HasMore,
		NextCursor: resp.Cursor,
		DurationMs: duration,
	}, nil
}

type rawVideo struct {
	ID         string `json:"id"`
	Desc       string `json:"desc"`
	CreateTime int64  `json:"create_time"`
	Duration   int    `json:"duration"`
	ShareURL   string `json:"share_url"`
	Cover      string `json:"cover"`
	Author     struct {
		ID            string `json:"id"`
		UniqueID      string `json:"unique_id"`
		Nickname      string `json:"nickname"`
		Signature     string `json:"signature"`
		AvatarURL     string `json:"avatar_url"`
		FollowerCount int64  `json:"follower_count"`
		Verified      bool   `json:"verified"`
	} `json:"author"`
	Stats struct {
		PlayCount    int64 `json:"play_count"`
		DiggCount    int64 `json:"digg_count"`
		CommentCount int64 `json:"comment_count"`
		ShareCount   int64 `json:"share_count"`
	} `json:"stats"`
	Challenges []struct {
		Title string `json:"title"`
	} `json:"challenges"`
}

// Normalize maps a raw video into the shared schema, returning nil for
// malformed items or items with no usable author identity.
func (a *Adapter) Normalize(raw creator.RawItem) *creator.NormalizedCreator {
	var v rawVideo
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if v.Author.UniqueID == "" || v.ID == "" {
		return nil
	}
	hashtags := make([]string, 0, len(v.Challenges))
	for _, ch := range v.Challenges {
		if ch.Title != "" {
			hashtags = append(hashtags, ch.Title)
		}
	}
	out := &creator.NormalizedCreator{
		Platform:  creator.PlatformShortVideo,
		ContentID: v.ID,
		MergeKey:  v.Author.UniqueID,
		Creator: creator.CreatorInfo{
			Handle:        v.Author.UniqueID,
			DisplayName:   v.Author.Nickname,
			FollowerCount: v.Author.FollowerCount,
			AvatarURL:     v.Author.AvatarURL,
			Biography:     v.Author.Signature,
			Emails:        adapters.ExtractEmails(v.Author.Signature),
			Verified:      v.Author.Verified,
			PlatformID:    v.Author.ID,
		},
		Content: creator.ContentInfo{
			ID:           v.ID,
			URL:          v.ShareURL,
			Description:  v.Desc,
			ThumbnailURL: v.Cover,
			ViewCount:    v.Stats.PlayCount,
			LikeCount:    v.Stats.DiggCount,
			CommentCount: v.Stats.CommentCount,
			ShareCount:   v.Stats.ShareCount,
			PostedAt:     time.Unix(v.CreateTime, 0).UTC(),
			DurationSec:  v.Duration,
		},
		Hashtags: hashtags,
	}
	// The search payload already includes the bio, so records normalize as
	// enriched when one is present.
	if out.Creator.Biography != "" {
		out.BioEnriched = true
	}
	return out
}

// DedupeKey is the author handle, stable across videos.
func (a *Adapter) DedupeKey(c *creator.NormalizedCreator) string {
	return c.Creator.Handle
}

// SupportsEnrichment is false: search results already carry biography data.
func (a *Adapter) SupportsEnrichment() bool {
	return false
}

// Enrich is unsupported for this platform.
func (a *Adapter) Enrich(_ context.Context, _ *creator.NormalizedCreator, _ creator.SearchConfig) (*creator.NormalizedCreator, error) {
	return nil, fmt.Errorf("shortvideo adapter does not support enrichment")
}
