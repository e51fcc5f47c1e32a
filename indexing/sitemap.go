package indexing

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"
)

const sitemapXMLNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapEntry is one page in a generated sitemap.
type SitemapEntry struct {
	Loc        string
	LastMod    time.Time
	ChangeFreq string
	Priority   float64
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// BuildSitemap renders entries as a standard XML sitemap document.
func BuildSitemap(entries []SitemapEntry) ([]byte, error) {
	set := urlSet{XMLNS: sitemapXMLNS, URLs: make([]sitemapURL, 0, len(entries))}
	for _, e := range entries {
		if e.Loc == "" {
			return nil, fmt.Errorf("indexing: sitemap entry with empty loc")
		}
		u := sitemapURL{Loc: e.Loc, ChangeFreq: e.ChangeFreq}
		if !e.LastMod.IsZero() {
			u.LastMod = e.LastMod.UTC().Format("2006-01-02")
		}
		if e.Priority > 0 {
			u.Priority = fmt.Sprintf("%.1f", e.Priority)
		}
		set.URLs = append(set.URLs, u)
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("indexing: marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Sitemap builds a sitemap from every tracked page. Registration time stands
// in for last modification; generated pages rarely change after publish.
func (s *Service) Sitemap(ctx context.Context) ([]byte, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]SitemapEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, SitemapEntry{
			Loc:        rec.URL,
			LastMod:    rec.CreatedAt,
			ChangeFreq: "weekly",
			Priority:   0.5,
		})
	}
	return BuildSitemap(entries)
}
