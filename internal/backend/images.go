package backend

import (
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// ResolveImagePath makes a server relative image path absolute against
// baseURL. Absolute http(s) URLs and data URIs pass through unchanged.
func ResolveImagePath(baseURL, path string) string {
	if path == "" {
		return ""
	}
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path
}

func (c *Client) resolveImages(images []domain.Image) []domain.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]domain.Image, len(images))
	base := c.BaseURL()
	for i, img := range images {
		img.Path = ResolveImagePath(base, img.Path)
		out[i] = img
	}
	return out
}
