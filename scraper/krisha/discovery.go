package krisha

import (
	"bytes"
	"context"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"krisha-scraper/config"
	"krisha-scraper/models"
	"krisha-scraper/utils"
)

const selCardLink = "a.a-card__title"

// Discoverer pages through search results and collects listing targets.
type Discoverer struct {
	fetcher  Fetcher
	maxPages int
	logger   *utils.Logger
}

func NewDiscoverer(fetcher Fetcher, maxPages int, logger *utils.Logger) *Discoverer {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Discoverer{fetcher: fetcher, maxPages: maxPages, logger: logger}
}

// Discover walks ?page=1, ?page=2, ... of entry until a page yields no new
// listing links or maxPages is reached. A failure on the first page is
// returned; later failures end paging with what was collected so far.
func (d *Discoverer) Discover(ctx context.Context, entry config.SearchEntry) ([]models.Target, error) {
	base, err := url.Parse(entry.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse search url %s", entry.URL)
	}

	seen := utils.NewSet[string]()
	var targets []models.Target

	for page := 1; page <= d.maxPages; page++ {
		if ctx.Err() != nil {
			break
		}

		pageURL := withPage(base, page)
		d.logger.Debug("[krisha] Search page %d: %s", page, pageURL)

		p, err := d.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			d.logger.Warn("[krisha] Stopping %s at page %d: %v", entry.URL, page, err)
			break
		}

		links, err := listingLinks(p.HTML, base)
		if err != nil {
			d.logger.Warn("[krisha] Unreadable search page %s: %v", pageURL, err)
			break
		}

		added := 0
		for _, link := range links {
			if !seen.Add(link) {
				continue
			}
			added++
			targets = append(targets, models.Target{
				URL:          link,
				City:         entry.City,
				PropertyType: entry.PropertyType,
				DealType:     entry.DealType,
			})
		}
		if added == 0 {
			break
		}
	}

	d.logger.Info("[krisha] %s/%s in %s: %d listings", entry.DealType, entry.PropertyType, entry.City, len(targets))
	return targets, nil
}

func withPage(base *url.URL, page int) string {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func listingLinks(html []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find(selCardLink).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.RawQuery = ""
		abs.Fragment = ""
		links = append(links, abs.String())
	})
	return links, nil
}
