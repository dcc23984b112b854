package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// StockRef identifies one item on a stock site.
type StockRef struct {
	Site   string
	ItemID string
	URL    string
}

type stockURLRule struct {
	site     string
	hosts    []string
	patterns []*regexp.Regexp
	// queryKeys are consulted when no path pattern matches.
	queryKeys []string
}

var stockURLRules = []stockURLRule{
	{
		site:  "shutterstock",
		hosts: []string{"shutterstock.com"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/clip-(\d+)`),
			regexp.MustCompile(`/track-(\d+)`),
			regexp.MustCompile(`-(\d{4,})/?$`),
		},
	},
	{
		site:      "adobestock",
		hosts:     []string{"stock.adobe.com"},
		patterns:  []*regexp.Regexp{regexp.MustCompile(`/(\d{4,})/?$`)},
		queryKeys: []string{"asset_id"},
	},
	{
		site:     "istockphoto",
		hosts:    []string{"istockphoto.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`gm(\d+)`)},
	},
	{
		site:     "freepik",
		hosts:    []string{"freepik.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`_(\d+)\.htm`)},
	},
	{
		site:  "depositphotos",
		hosts: []string{"depositphotos.com"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^/(?:[a-z]{2}/)?(\d{4,})/`),
			regexp.MustCompile(`-(\d{4,})\.html$`),
		},
	},
	{
		site:     "123rf",
		hosts:    []string{"123rf.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`_(\d{4,})_`)},
	},
	{
		site:     "dreamstime",
		hosts:    []string{"dreamstime.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?:image|illustration|photo|video|vector)(\d{5,})`)},
	},
	{
		site:     "vecteezy",
		hosts:    []string{"vecteezy.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`/(\d{3,})-[^/]*$`)},
	},
	{
		site:     "rawpixel",
		hosts:    []string{"rawpixel.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`/image/(\d+)`)},
	},
	{
		site:     "pngtree",
		hosts:    []string{"pngtree.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`_(\d+)\.html$`)},
	},
	{
		site:     "alamy",
		hosts:    []string{"alamy.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`-([A-Za-z0-9]{5,})\.html$`)},
	},
	{
		site:     "envato",
		hosts:    []string{"elements.envato.com", "envato.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`-([A-Z0-9]{6,})/?$`)},
	},
	{
		site:     "motionarray",
		hosts:    []string{"motionarray.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`-(\d{3,})/?$`)},
	},
}

// ParseStockURL resolves a stock-site item URL to the broker's site key and item id.
func ParseStockURL(raw string) (StockRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StockRef{}, fmt.Errorf("%w: empty url", ErrUnsupportedURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StockRef{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	for _, rule := range stockURLRules {
		if !matchesHost(host, rule.hosts) {
			continue
		}
		for _, re := range rule.patterns {
			if m := re.FindStringSubmatch(u.Path); m != nil {
				return StockRef{Site: rule.site, ItemID: m[1], URL: raw}, nil
			}
		}
		for _, key := range rule.queryKeys {
			if id := u.Query().Get(key); id != "" {
				return StockRef{Site: rule.site, ItemID: id, URL: raw}, nil
			}
		}
		return StockRef{}, fmt.Errorf("%w: no item id in %s url", ErrUnsupportedURL, rule.site)
	}

	return StockRef{}, fmt.Errorf("%w: unknown host %q", ErrUnsupportedURL, host)
}

func matchesHost(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
