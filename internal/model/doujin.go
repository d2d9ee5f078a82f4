package model

import "time"

// Title holds the title variants of a gallery.
type Title struct {
	Pretty   string `json:"pretty"`
	English  string `json:"english"`
	Japanese string `json:"japanese"`
	Chinese  string `json:"chinese"`
}

// NamedTag is a language, character, group or plain tag attached to a gallery.
type NamedTag struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// PageImage describes one image of a gallery.
type PageImage struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mime   string `json:"mime"`
}

// Doujin is a single gallery in a search result.
type Doujin struct {
	ID         string      `json:"id"`
	Title      Title       `json:"title"`
	Languages  []NamedTag  `json:"languages"`
	Characters []NamedTag  `json:"characters"`
	Groups     []NamedTag  `json:"groups"`
	Tags       []NamedTag  `json:"tags"`
	Images     []PageImage `json:"images"`
	Cover      PageImage   `json:"cover"`
	UploadAt   time.Time   `json:"upload_at"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Query      string   `json:"query,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
	Doujins    []Doujin `json:"doujins"`
}

func tagNames(tags []NamedTag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}
