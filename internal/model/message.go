package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// SourceName identifies the gallery site in published messages.
const SourceName = "nhentai"

// Source points back at the gallery a message was built from.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Image is a published image reference. Index is only set for pages.
type Image struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Extension string `json:"extension"`
	Index     *int   `json:"index,omitempty"`
	URL       string `json:"url"`
}

// Images groups the gallery pages with its cover and thumbnail.
type Images struct {
	Pages     []Image `json:"pages"`
	Cover     Image   `json:"cover"`
	Thumbnail Image   `json:"thumbnail"`
}

// Message is the outbound event published for each search hit.
type Message struct {
	ID         string    `json:"id"`
	Title      Title     `json:"title"`
	Language   []string  `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Characters []string  `json:"characters"`
	Groups     []string  `json:"groups"`
	Tags       []string  `json:"tags"`
	Source     Source    `json:"source"`
	Images     Images    `json:"images"`
}

// GalleryURL returns the canonical gallery URL for an id.
func GalleryURL(id string) string {
	return fmt.Sprintf("https://nhentai.net/g/%s/", id)
}

// NewMessage converts a search hit into a publishable message.
func NewMessage(d Doujin) *Message {
	pages := make([]Image, 0, len(d.Images))
	for i, p := range d.Images {
		idx := i
		pages = append(pages, Image{
			Width:     p.Width,
			Height:    p.Height,
			Extension: p.Mime,
			Index:     &idx,
			URL:       p.Src,
		})
	}

	cover := Image{
		Width:     d.Cover.Width,
		Height:    d.Cover.Height,
		Extension: d.Cover.Mime,
		URL:       d.Cover.Src,
	}

	return &Message{
		ID: uuid.New().String(),
		Title: Title{
			Pretty:   norm.NFC.String(d.Title.Pretty),
			English:  norm.NFC.String(d.Title.English),
			Japanese: norm.NFC.String(d.Title.Japanese),
			Chinese:  norm.NFC.String(d.Title.Chinese),
		},
		Language:   tagNames(d.Languages),
		CreatedAt:  d.UploadAt,
		UpdatedAt:  d.UploadAt,
		Characters: tagNames(d.Characters),
		Groups:     tagNames(d.Groups),
		Tags:       tagNames(d.Tags),
		Source: Source{
			ID:   d.ID,
			Name: SourceName,
			URL:  GalleryURL(d.ID),
		},
		Images: Images{
			Pages:     pages,
			Cover:     cover,
			Thumbnail: cover,
		},
	}
}
