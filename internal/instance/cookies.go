package instance

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Cookie is the subset of a browser cookie exposed across Worker/admin
// boundaries.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
}

// GetCookies returns a tab's cookies, optionally filtered to one domain.
func GetCookies(ctx context.Context, domain string) ([]Cookie, error) {
	var netCookies []*network.Cookie
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		netCookies = cookies
		return nil
	})); err != nil {
		return nil, err
	}

	out := make([]Cookie, 0, len(netCookies))
	for _, c := range netCookies {
		if domain != "" && !strings.Contains(c.Domain, domain) {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}
