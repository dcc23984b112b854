package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStockURL(t *testing.T) {
	cases := []struct {
		raw  string
		site string
		id   string
	}{
		{"https://www.shutterstock.com/image-photo/happy-family-park-1234567890", "shutterstock", "1234567890"},
		{"https://www.shutterstock.com/video/clip-1057418531-sunset-beach", "shutterstock", "1057418531"},
		{"https://www.shutterstock.com/music/track-456789-summer", "shutterstock", "456789"},
		{"shutterstock.com/image-vector/abstract-background-98765/", "shutterstock", "98765"},
		{"https://stock.adobe.com/images/mountain-lake/123456789", "adobestock", "123456789"},
		{"https://stock.adobe.com/search?k=cat&asset_id=55555", "adobestock", "55555"},
		{"https://www.istockphoto.com/photo/business-team-gm1234567890-123456", "istockphoto", "1234567890"},
		{"https://www.freepik.com/free-photo/coffee-cup_12345678.htm#query=coffee", "freepik", "12345678"},
		{"https://depositphotos.com/123456789/stock-photo-city-night.html", "depositphotos", "123456789"},
		{"https://depositphotos.com/photo/city-night-24681357.html", "depositphotos", "24681357"},
		{"https://www.123rf.com/photo_98765432_young-woman.html", "123rf", "98765432"},
		{"https://www.dreamstime.com/forest-road-image123456789", "dreamstime", "123456789"},
		{"https://www.vecteezy.com/vector-art/1234567-flat-icons", "vecteezy", "1234567"},
		{"https://www.rawpixel.com/image/1234567/vintage-flowers", "rawpixel", "1234567"},
		{"https://pngtree.com/freepng/gold-frame_1234567.html", "pngtree", "1234567"},
		{"https://www.alamy.com/stock-photo-old-town-square-2A3B4C5.html", "alamy", "2A3B4C5"},
		{"https://elements.envato.com/corporate-presentation-ABCD123", "envato", "ABCD123"},
		{"https://motionarray.com/stock-video/drone-city-1234567/", "motionarray", "1234567"},
	}

	for _, tc := range cases {
		ref, err := ParseStockURL(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.site, ref.Site, tc.raw)
		assert.Equal(t, tc.id, ref.ItemID, tc.raw)
	}
}

func TestParseStockURLRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"https://example.com/image/123456",
		"https://www.shutterstock.com/search/cats",
		"https://notshutterstock.com/image-photo/x-123456",
		"http://[::1",
	} {
		_, err := ParseStockURL(raw)
		assert.ErrorIs(t, err, ErrUnsupportedURL, raw)
	}
}
