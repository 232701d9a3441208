// Package reels adapts the photo/reel platform search API. Reel search hits
// omit biography and follower data, so the adapter enriches accepted
// creators through the profile endpoint.
package reels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/scoutline/creator-discovery/internal/adapters"
	"github.com/scoutline/creator-discovery/internal/creator"
)

// Adapter implements creator.Adapter for the reels platform.
type Adapter struct {
	client *adapters.Client
}

// New constructs the adapter around a shared API client.
func New(client *adapters.Client) *Adapter {
	return &Adapter{client: client}
}

// Platform returns the adapter's registry tag.
func (a *Adapter) Platform() creator.Platform {
	return creator.PlatformReels
}

type searchResponse struct {
	Reels    []json.RawMessage `json:"reels"`
	MoreRows bool              `json:"more_available"`
	NextPage int               `json:"next_page"`
}

// Fetch retrieves one page of reel search results. The pagination cursor is
// a numeric page index carried as a string.
func (a *Adapter) Fetch(ctx context.Context, keyword, cursor string, _ creator.SearchConfig) (creator.FetchPage, error) {
	query := url.Values{"q": {keyword}}
	if cursor != "" {
		query.Set("page", cursor)
	}
	var resp searchResponse
	duration, err := a.client.GetJSON(ctx, "/v1/reels/search", query, &resp)
	if err != nil {
		return creator.FetchPage{DurationMs: duration}, fmt.Errorf("reels search %q: %w", keyword, err)
	}
	items := make([]creator.RawItem, 0, len(resp.Reels))
	for _, r := range resp.Reels {
		items = append(items, creator.RawItem(r))
	}
	next := ""
	if resp.MoreRows {
		next = strconv.Itoa(resp.NextPage)
	}
	return creator.FetchPage{
		Items:      items,
		HasMore:    resp.MoreRows,
		NextCursor: next,
		DurationMs: duration,
	}, nil
}

type rawReel struct {
	Code     string `json:"code"`
	Caption  string `json:"caption"`
	TakenAt  int64  `json:"taken_at"`
	Thumb    string `json:"thumbnail_url"`
	VideoURL string `json:"video_url"`
	User     struct {
		PK       string `json:"pk"`
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Avatar   string `json:"profile_pic_url"`
		Verified bool   `json:"is_verified"`
	} `json:"user"`
	PlayCount    int64 `json:"play_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
}

// Normalize maps a raw reel into the shared schema, returning nil for
// malformed items or items with no username.
func (a *Adapter) Normalize(raw creator.RawItem) *creator.NormalizedCreator {
	var r rawReel
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	if r.User.Username == "" || r.Code == "" {
		return nil
	}
	return &creator.NormalizedCreator{
		Platform:  creator.PlatformReels,
		ContentID: r.Code,
		MergeKey:  r.User.Username,
		Creator: creator.CreatorInfo{
			Handle:      r.User.Username,
			DisplayName: r.User.FullName,
			AvatarURL:   r.User.Avatar,
			Verified:    r.User.Verified,
			PlatformID:  r.User.PK,
		},
		Content: creator.ContentInfo{
			ID:           r.Code,
			URL:          r.VideoURL,
			Description:  r.Caption,
			ThumbnailURL: r.Thumb,
			ViewCount:    r.PlayCount,
			LikeCount:    r.LikeCount,
			CommentCount: r.CommentCount,
			PostedAt:     time.Unix(r.TakenAt, 0).UTC(),
		},
		Hashtags: adapters.ParseHashtags(r.Caption),
	}
}

// DedupeKey is the username, stable across reels.
func (a *Adapter) DedupeKey(c *creator.NormalizedCreator) string {
	return c.Creator.Handle
}

// SupportsEnrichment is true: reel search hits omit the biography.
func (a *Adapter) SupportsEnrichment() bool {
	return true
}

type profileResponse struct {
	User struct {
		Username      string `json:"username"`
		Biography     string `json:"biography"`
		FollowerCount int64  `json:"follower_count"`
		ExternalURL   string `json:"external_url"`
	} `json:"user"`
}

// Enrich fills in biography, follower count and extracted emails from the
// profile endpoint.
func (a *Adapter) Enrich(ctx context.Context, c *creator.NormalizedCreator, _ creator.SearchConfig) (*creator.NormalizedCreator, error) {
	var resp profileResponse
	path := "/v1/users/" + url.PathEscape(c.Creator.Handle)
	if _, err := a.client.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("reels profile %q: %w", c.Creator.Handle, err)
	}
	out := *c
	out.Creator.Biography = resp.User.Biography
	out.Creator.FollowerCount = resp.User.FollowerCount
	out.Creator.Emails = adapters.ExtractEmails(resp.User.Biography)
	return &out, nil
}
