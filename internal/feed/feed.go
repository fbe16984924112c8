// Package feed models the RSS-shaped release feed a game publishes. Each
// channel describes one game; its items list available versions with the
// newest first. Version strings are opaque: ordering comes only from feed
// position, never from comparing the strings themselves.
package feed

import "encoding/xml"

type Feed struct {
	XMLName  xml.Name  `xml:"rss"`
	Channels []Channel `xml:"channel"`
}

type Channel struct {
	Title       string  `xml:"title"`
	Description string  `xml:"description"`
	Link        string  `xml:"link"`
	Entries     []Entry `xml:"item"`
}

// Entry describes one downloadable version. Title holds the version
// string and Link the archive URL.
type Entry struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
}

// Resolution is the outcome of matching a feed against a game title.
type Resolution struct {
	Version         string
	GameDescription string
	Notes           string
	URL             string
	// IsNewest is true iff the matched entry sits at index 0 of its channel.
	IsNewest bool
}

// Parse decodes an RSS document. A document with no channels is valid and
// simply resolves nothing.
func Parse(b []byte) (*Feed, error) {
	var f Feed
	if err := xml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ResolveLatest finds the newest entry for the channel whose title equals
// gameTitle.
func (f *Feed) ResolveLatest(gameTitle string) (Resolution, bool) {
	return f.resolve(gameTitle, "")
}

// ResolveSpecific finds the entry for an exact version within the channel
// whose title equals gameTitle.
func (f *Feed) ResolveSpecific(gameTitle, version string) (Resolution, bool) {
	if version == "" {
		return Resolution{}, false
	}
	return f.resolve(gameTitle, version)
}

func (f *Feed) resolve(gameTitle, version string) (Resolution, bool) {
	if f == nil {
		return Resolution{}, false
	}
	for _, ch := range f.Channels {
		if ch.Title == "" || ch.Title != gameTitle {
			continue
		}
		for i, e := range ch.Entries {
			if e.Title == "" {
				continue
			}
			if version != "" && e.Title != version {
				continue
			}
			return Resolution{
				Version:         e.Title,
				GameDescription: ch.Description,
				Notes:           e.Description,
				URL:             e.Link,
				IsNewest:        i == 0,
			}, true
		}
		// Titles match per channel exactly once; a miss here is final.
		break
	}
	return Resolution{}, false
}
