// Package metadata discovers video and channel metadata from YouTube
// channel uploads feeds, optionally enriched via the Data API.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"viewcurve/internal/store"
	"viewcurve/pkg/snapshot"
)

const (
	uploadsFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	videosAPIURL   = "https://www.googleapis.com/youtube/v3/videos"
)

// Discoverer pulls a channel's uploads feed for video ids and publish
// timestamps, then batches the Data API for duration and current view count
// when an API key is configured.
type Discoverer struct {
	client   *http.Client
	parser   *gofeed.Parser
	store    store.Store
	apiKey   string
	channels []string
	apiURL   string
}

// NewDiscoverer creates a discoverer for the given channel ids.
func NewDiscoverer(s store.Store, apiKey string, channels []string) *Discoverer {
	return &Discoverer{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		store:    s,
		apiKey:   apiKey,
		channels: channels,
		apiURL:   videosAPIURL,
	}
}

// Discover refreshes metadata for all configured channels. Returns the
// number of videos recorded.
func (d *Discoverer) Discover(ctx context.Context) (int, error) {
	total := 0
	for _, channelID := range d.channels {
		videos, err := d.collectChannel(ctx, channelID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  channel %s error: %v\n", channelID, err)
			continue
		}
		total += videos
	}
	return total, nil
}

func (d *Discoverer) collectChannel(ctx context.Context, channelID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf(uploadsFeedURL, channelID), nil)
	if err != nil {
		return 0, fmt.Errorf("create uploads feed request %s: %w", channelID, err)
	}
	req.Header.Set("User-Agent", "viewcurve/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch uploads feed %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("uploads feed %s status %d", channelID, resp.StatusCode)
	}

	parsed, err := d.parser.Parse(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse uploads feed %s: %w", channelID, err)
	}

	now := time.Now().UTC()
	var videos []store.Video
	for _, entry := range parsed.Items {
		videoID := entryVideoID(entry)
		if videoID == "" {
			continue
		}
		published := now
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}
		videos = append(videos, store.Video{
			ID:          videoID,
			ChannelID:   channelID,
			Title:       entry.Title,
			IsLongForm:  true, // until a duration proves otherwise
			PublishedAt: published,
			CollectedAt: now,
		})
	}

	if d.apiKey != "" && len(videos) > 0 {
		d.enrich(ctx, videos)
	}

	for i := range videos {
		if err := d.store.UpsertVideo(ctx, &videos[i]); err != nil {
			return 0, err
		}
	}
	return len(videos), nil
}

// enrich batches the Data API (max 50 ids per request) for contentDetails
// and statistics, setting duration, the long-form flag, and an initial view
// snapshot per video.
func (d *Discoverer) enrich(ctx context.Context, videos []store.Video) {
	idx := make(map[string]int, len(videos))
	ids := make([]string, len(videos))
	for i := range videos {
		ids[i] = videos[i].ID
		idx[videos[i].ID] = i
	}

	now := time.Now().UTC()
	for start := 0; start < len(ids); start += 50 {
		end := start + 50
		if end > len(ids) {
			end = len(ids)
		}

		params := url.Values{}
		params.Set("part", "contentDetails,statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", d.apiKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"?"+params.Encode(), nil)
		if err != nil {
			continue
		}

		resp, err := d.client.Do(req)
		if err != nil {
			continue
		}

		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "  videos api status %d\n", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		var result ytVideoResult
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()

		for _, item := range result.Items {
			i, ok := idx[item.ID]
			if !ok {
				continue
			}
			v := &videos[i]
			v.Duration = item.ContentDetails.Duration
			if secs, err := snapshot.ParseDurationSeconds(v.Duration); err == nil {
				v.DurationSeconds = secs
				v.IsLongForm = secs > snapshot.ShortFormMaxSeconds
			}

			views, err := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
			if err != nil {
				continue
			}
			age := int(now.Sub(v.PublishedAt).Hours() / 24)
			if age < 0 {
				age = 0
			}
			_ = d.store.AddSnapshot(ctx, &store.ViewSnapshot{
				VideoID:            v.ID,
				ChannelID:          v.ChannelID,
				DaysSincePublished: age,
				ViewCount:          views,
				CapturedAt:         now,
			})
		}
	}
}

// entryVideoID extracts the video id from a feed entry, preferring the yt
// namespace extension and falling back to the watch URL.
func entryVideoID(entry *gofeed.Item) string {
	if exts, ok := entry.Extensions["yt"]; ok {
		if vals, ok := exts["videoId"]; ok && len(vals) > 0 {
			return vals[0].Value
		}
	}
	if u, err := url.Parse(entry.Link); err == nil {
		if v := u.Query().Get("v"); v != "" {
			return v
		}
	}
	return ""
}

type ytVideoResult struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}
