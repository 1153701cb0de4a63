package lister

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"harvester/internal/harvest"
)

const (
	// PageToken is replaced with the zero-based page number.
	PageToken = "${PAGE_NO}"

	pageStampLayout = "20060102150405"
	maxPages        = 10000
)

var pageParam = regexp.MustCompile(`(?:\?|&)page=(\d+)`)

// listPages walks a paginated JSON API from page 0 and stops at the first
// page holding an empty array. Each non-empty page becomes one file.
func (h *HTTP) listPages(ctx context.Context, src harvest.Source) ([]*harvest.File, error) {
	now := h.now()
	template, err := SubstituteTokens(src.URL, now)
	if err != nil {
		return nil, err
	}
	stamp := now.Format(pageStampLayout)

	var files []*harvest.File
	for page := 0; page < maxPages; page++ {
		pageURL := strings.ReplaceAll(template, PageToken, strconv.Itoa(page))
		if !embedsPage(pageURL, page) {
			log.Ctx(ctx).Error().Str("url", pageURL).Int("page", page).Msg("url does not embed the page number, check the source url")
			break
		}
		body, err := h.fetchBody(ctx, src, pageURL)
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode page %d from %s: %w", page, pageURL, err)
		}
		if len(items) == 0 {
			break
		}
		log.Ctx(ctx).Debug().Int("page", page).Int("records", len(items)).Msg("page fetched")
		name := fmt.Sprintf("%s.page%d", stamp, page)
		files = append(files, harvest.NewFile(name, harvest.StatusAwaitingDownload, newMemContent(body)).WithSize(int64(len(body))))
	}
	return files, nil
}

func embedsPage(pageURL string, page int) bool {
	m := pageParam.FindStringSubmatch(pageURL)
	return m != nil && m[1] == strconv.Itoa(page)
}
