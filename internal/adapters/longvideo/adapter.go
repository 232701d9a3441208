// Package longvideo adapts the long-video platform search API. Results are
// channel-centric: the dedupe identity is the channel id, hashtags are not
// available, and channel descriptions come from a separate endpoint.
package longvideo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/scoutline/creator-discovery/internal/adapters"
	"github.com/scoutline/creator-discovery/internal/creator"
)

// Adapter implements creator.Adapter for the long-video platform.
type Adapter struct {
	client *adapters.Client
}

// New constructs the adapter around a shared API client.
func New(client *adapters.Client) *Adapter {
	return &Adapter{client: client}
}

// Platform returns the adapter's registry tag.
func (a *Adapter) Platform() creator.Platform {
	return creator.PlatformLongVideo
}

type searchResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"next_page_token"`
}

// Fetch retrieves one page of video search results. Pagination uses an
// opaque page token.
func (a *Adapter) Fetch(ctx context.Context, keyword, cursor string, _ creator.SearchConfig) (creator.FetchPage, error) {
	query := url.Values{"q": {keyword}, "max_results": {"25"}}
	if cursor != "" {
		query.Set("page_token", cursor)
	}
	var resp searchResponse
	duration, err := a.client.GetJSON(ctx, "/v1/search", query, &resp)
	if err != nil {
		return creator.FetchPage{DurationMs: duration}, fmt.Errorf("longvideo search %q: %w", keyword, err)
	}
	items := make([]creator.RawItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, creator.RawItem(it))
	}
	return creator.FetchPage{
		Items:      items,
		HasMore:    resp.NextPageToken != "",
		NextCursor: resp.NextPageToken,
		DurationMs: duration,
	}, nil
}

type rawResult struct {
	VideoID string `json:"video_id"`
	Snippet struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ChannelID    string `json:"channel_id"`
		ChannelTitle string `json:"channel_title"`
		PublishedAt  string `json:"published_at"`
		Thumbnail    string `json:"thumbnail"`
	} `json:"snippet"`
	Statistics struct {
		ViewCount    int64 `json:"view_count"`
		LikeCount    int64 `json:"like_count"`
		CommentCount int64 `json:"comment_count"`
	} `json:"statistics"`
	DurationSec int `json:"duration_sec"`
}

// Normalize maps a raw search result into the shared schema, returning nil
// for malformed items or items with no channel id.
func (a *Adapter) Normalize(raw creator.RawItem) *creator.NormalizedCreator {
	var r rawResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	if r.Snippet.ChannelID == "" || r.VideoID == "" {
		return nil
	}
	postedAt, _ := time.Parse(time.RFC3339, r.Snippet.PublishedAt)
	return &creator.NormalizedCreator{
		Platform:  creator.PlatformLongVideo,
		ContentID: r.VideoID,
		MergeKey:  r.Snippet.ChannelID,
		Creator: creator.CreatorInfo{
			Handle:      r.Snippet.ChannelTitle,
			DisplayName: r.Snippet.ChannelTitle,
			PlatformID:  r.Snippet.ChannelID,
		},
		Content: creator.ContentInfo{
			ID:           r.VideoID,
			URL:          "https://video.example.com/watch?v=" + r.VideoID,
			Description:  r.Snippet.Description,
			ThumbnailURL: r.Snippet.Thumbnail,
			ViewCount:    r.Statistics.ViewCount,
			LikeCount:    r.Statistics.LikeCount,
			CommentCount: r.Statistics.CommentCount,
			PostedAt:     postedAt,
			DurationSec:  r.DurationSec,
		},
	}
}

// DedupeKey is the channel id: many videos, one creator.
func (a *Adapter) DedupeKey(c *creator.NormalizedCreator) string {
	return c.Creator.PlatformID
}

// SupportsEnrichment is true: channel descriptions require a second call.
func (a *Adapter) SupportsEnrichment() bool {
	return true
}

type channelResponse struct {
	Channel struct {
		ID              string `json:"id"`
		Description     string `json:"description"`
		SubscriberCount int64  `json:"subscriber_count"`
		CustomHandle    string `json:"custom_handle"`
	} `json:"channel"`
}

// Enrich fills in the channel description, subscriber count and any emails
// published in the description.
func (a *Adapter) Enrich(ctx context.Context, c *creator.NormalizedCreator, _ creator.SearchConfig) (*creator.NormalizedCreator, error) {
	var resp channelResponse
	path := "/v1/channels/" + url.PathEscape(c.Creator.PlatformID)
	if _, err := a.client.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("longvideo channel %q: %w", c.Creator.PlatformID, err)
	}
	out := *c
	out.Creator.Biography = resp.Channel.Description
	out.Creator.FollowerCount = resp.Channel.SubscriberCount
	out.Creator.Emails = adapters.ExtractEmails(resp.Channel.Description)
	if resp.Channel.CustomHandle != "" {
		out.Creator.Handle = resp.Channel.CustomHandle
	}
	return &out, nil
}
