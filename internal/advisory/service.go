package advisory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/security"
)

// maxItemsPerFeed は1フィードあたり保持するお知らせの上限。
const maxItemsPerFeed = 10

// Config はServiceの設定。
type Config struct {
	FeedURLs []string
	Timeout  time.Duration
	MaxSize  int64
}

// Service は運行情報フィードを定期取得し、メモリ上にキャッシュする。
// フィード取得はSSRF防止付きクライアントで行い、本文はサニタイズしてから保持する。
type Service struct {
	config    Config
	guard     security.SSRFGuardService
	sanitizer security.ContentSanitizerService
	collector metrics.MetricsCollector
	logger    *slog.Logger
	parser    *gofeed.Parser

	mu         sync.RWMutex
	advisories []model.Advisory
	updatedAt  time.Time
}

// NewService はServiceを生成する。
func NewService(
	config Config,
	guard security.SSRFGuardService,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:    config,
		guard:     guard,
		sanitizer: sanitizer,
		collector: collector,
		logger:    logger,
		parser:    gofeed.NewParser(),
	}
}

// Advisories はキャッシュ済みの運行情報と最終更新時刻を返す。
func (s *Service) Advisories() ([]model.Advisory, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Advisory(nil), s.advisories...), s.updatedAt
}

// RefreshAll は設定された全フィードを取得してキャッシュを入れ替える。
// 一部のフィードが失敗しても成功分だけでキャッシュを更新する。
func (s *Service) RefreshAll(ctx context.Context) {
	var collected []model.Advisory

	for _, feedURL := range s.config.FeedURLs {
		advisories, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			s.logger.Warn("advisory feed fetch failed",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			if s.collector != nil {
				s.collector.RecordAdvisoryFetch(false)
			}
			continue
		}
		if s.collector != nil {
			s.collector.RecordAdvisoryFetch(true)
		}
		collected = append(collected, advisories...)
	}

	s.mu.Lock()
	s.advisories = collected
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("advisory cache refreshed",
		slog.Int("advisory_count", len(collected)),
		slog.Int("feed_count", len(s.config.FeedURLs)),
	)
}

// Start は定期更新ループを開始する。ctxのキャンセルで停止する。
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	s.RefreshAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("advisory refresher stopped")
			return
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}

// fetchFeed は1フィードを取得・パースしてお知らせに変換する。
// 設定URLがHTMLページの場合はheadタグからフィードリンクを自動検出する。
func (s *Service) fetchFeed(ctx context.Context, feedURL string) ([]model.Advisory, error) {
	if err := s.guard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("unsafe feed url: %w", err)
	}

	contentType, body, err := s.fetchBody(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	if !isDirectFeed(contentType, body) {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		if !strings.Contains(strings.ToLower(mediaType), "html") {
			return nil, fmt.Errorf("neither feed nor html: %s", contentType)
		}

		resolved := selectFeedURL(parseFeedLinksFromHTML(body, feedURL), feedURL)
		if resolved == "" {
			return nil, fmt.Errorf("no feed link found in page: %s", feedURL)
		}
		if err := s.guard.ValidateURL(resolved); err != nil {
			return nil, fmt.Errorf("unsafe resolved feed url: %w", err)
		}
		if _, body, err = s.fetchBody(ctx, resolved); err != nil {
			return nil, err
		}
	}

	parsed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return s.convert(parsed), nil
}

// fetchBody はSSRF防止付きクライアントでURLを取得する。
func (s *Service) fetchBody(ctx context.Context, rawURL string) (string, []byte, error) {
	client := s.guard.NewSafeClient(s.config.Timeout, s.config.MaxSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("User-Agent", "Ticketbari/1.0 Advisory Fetcher")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxSize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// convert はパース済みフィードをお知らせに変換する。本文はサニタイズする。
func (s *Service) convert(feed *gofeed.Feed) []model.Advisory {
	source := strings.TrimSpace(feed.Title)

	var advisories []model.Advisory
	for i, item := range feed.Items {
		if i >= maxItemsPerFeed {
			break
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		published := time.Time{}
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		advisories = append(advisories, model.Advisory{
			Source:      source,
			Title:       strings.TrimSpace(item.Title),
			SummaryHTML: s.sanitizer.Sanitize(summary),
			Link:        item.Link,
			PublishedAt: published,
		})
	}
	return advisories
}
