// Package itviec extracts job listings from ITviec.com search pages.
package itviec

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// ParserID is the registry key for this adapter.
const ParserID = "itviec"

// Parser extracts listings from ITviec search result pages. Each page is
// parsed independently; pagination is surfaced as a discovered link so the
// frontier's depth and page budgets bound it.
type Parser struct {
	clock pipeline.Clock
}

// New creates the ITviec adapter.
func New(clock pipeline.Clock) *Parser {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Parser{clock: clock}
}

// Selector sets, primary first. ITviec tweaks its markup often enough that
// the fallbacks earn their keep.
var (
	containerSelectors = []string{"div[data-search-id]", ".job-item", ".search-result-item"}
	titleSelectors     = []string{"h3 a", ".job-title a", "h3", ".job-title"}
	companySelectors   = []string{`a[href*="/companies/"]`, ".company-name a", ".employer a", ".company-name", ".employer"}
	locationSelectors  = []string{".job-location", ".location", `[class*="location"]`}
	salarySelectors    = []string{".salary", `[class*="salary"]`}
	logoSelectors      = []string{`img[src*="logo"]`, ".company-logo img", ".logo img", `img[alt*="logo"]`}
	skillSelectors     = []string{".skills a", `[class*="skill"]`, ".tag"}
)

var (
	postedDateRe = regexp.MustCompile(`(?i)posted \d+ \w+ ago|\d+ (?:minutes?|hours?|days?|weeks?) ago`)
	locationRe   = regexp.MustCompile(`(?i)ho chi minh|ha noi|da nang|can tho|remote|hybrid|at office`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Parse extracts job listings and the next pagination link from one search
// page. A page with no recognizable containers yields an empty result, not
// an error; malformed HTML is the error case.
func (p *Parser) Parse(_ context.Context, site pipeline.SiteID, page pipeline.FetchResponse) (pipeline.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("itviec: parse document: %w", err)
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("itviec: page url %q: %w", page.URL, err)
	}

	var result pipeline.ParseResult
	containers := findContainers(doc)
	containers.Each(func(_ int, card *goquery.Selection) {
		listing := p.parseCard(card, base, site)
		// Title and link are the identity of a listing; skip cards
		// without them rather than emit junk rows.
		if listing.Title == "" || listing.CanonicalLink == "" {
			return
		}
		result.Listings = append(result.Listings, listing)
	})

	// The site paginates with ?page=N. Stop discovering once a page
	// yields nothing, matching how the listing index behaves past its
	// last page.
	if len(result.Listings) > 0 {
		if next := nextPageURL(base); next != "" {
			result.DiscoveredLinks = append(result.DiscoveredLinks, next)
		}
	}
	return result, nil
}

func findContainers(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return s
		}
	}
	return doc.Find(containerSelectors[0]) // empty selection
}

func (p *Parser) parseCard(card *goquery.Selection, base *url.URL, site pipeline.SiteID) pipeline.JobListing {
	title, link := titleAndLink(card, base)
	return pipeline.JobListing{
		Title:         title,
		CanonicalLink: link,
		Company:       company(card),
		Location:      location(card),
		PostedDate:    postedDate(card),
		Salary:        firstText(card, salarySelectors),
		LogoURL:       logoURL(card, base),
		Skills:        skills(card),
		SourceSite:    site,
		FetchedAt:     p.clock.Now(),
	}
}

func titleAndLink(card *goquery.Selection, base *url.URL) (string, string) {
	for _, sel := range titleSelectors {
		el := card.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		title := cleanText(el.Text())
		href, ok := el.Attr("href")
		if !ok {
			// Title node without a link; fall back to the card's
			// first job link.
			href, _ = card.Find(`a[href*="/it-jobs/"]`).First().Attr("href")
			if href == "" {
				href, _ = card.Find("a[href]").First().Attr("href")
			}
		}
		return title, resolveRef(base, href)
	}
	return "", ""
}

func company(card *goquery.Selection) string {
	for _, sel := range companySelectors {
		el := card.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		name := cleanText(el.Text())
		if name != "" && len(name) < 100 {
			return name
		}
	}
	return ""
}

func firstText(card *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		el := card.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if text := cleanText(el.Text()); text != "" {
			return text
		}
	}
	return ""
}

func location(card *goquery.Selection) string {
	if loc := firstText(card, locationSelectors); loc != "" {
		return loc
	}
	// Fall back to well-known city and mode names anywhere in the card.
	return locationRe.FindString(card.Text())
}

func postedDate(card *goquery.Selection) string {
	for _, sel := range []string{".posted-date", `[class*="date"]`, `[class*="time"]`} {
		if text := cleanText(card.Find(sel).First().Text()); postedDateRe.MatchString(text) {
			return postedDateRe.FindString(text)
		}
	}
	return postedDateRe.FindString(card.Text())
}

func logoURL(card *goquery.Selection, base *url.URL) string {
	for _, sel := range logoSelectors {
		if src, ok := card.Find(sel).First().Attr("src"); ok && src != "" {
			return resolveRef(base, src)
		}
	}
	return ""
}

func skills(card *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sel := range skillSelectors {
		card.Find(sel).Each(func(_ int, el *goquery.Selection) {
			skill := cleanText(el.Text())
			if skill == "" || len(skill) >= 50 {
				return
			}
			if _, dup := seen[skill]; dup {
				return
			}
			seen[skill] = struct{}{}
			out = append(out, skill)
		})
		if len(out) > 0 {
			break
		}
	}
	return out
}

// nextPageURL bumps the ?page query parameter on the current page URL.
// A page without the parameter is page 1.
func nextPageURL(base *url.URL) string {
	q := base.Query()
	current := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ""
		}
		current = n
	}
	q.Set("page", strconv.Itoa(current+1))
	next := *base
	next.RawQuery = q.Encode()
	return next.String()
}

func resolveRef(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
