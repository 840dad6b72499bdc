// Package catalog serves read-only film, genre and person documents from the
// search index through a read-through cache.
package catalog

import (
	"time"

	"github.com/StricklySoft/catalog-edge/pkg/store"
)

// Kind names a document collection exposed under /api/v1/{kind}.
type Kind string

const (
	KindFilms   Kind = "films"
	KindGenres  Kind = "genres"
	KindPersons Kind = "persons"
)

// Kinds lists every served kind in route registration order.
func Kinds() []Kind {
	return []Kind{KindFilms, KindGenres, KindPersons}
}

// label is the singular used in "<label> not found".
func (k Kind) label() string {
	switch k {
	case KindFilms:
		return "Film"
	case KindGenres:
		return "Genre"
	case KindPersons:
		return "Person"
	default:
		return "Document"
	}
}

// searchField is the text field matched by search queries.
func (k Kind) searchField() string {
	switch k {
	case KindFilms:
		return "title"
	case KindPersons:
		return "full_name"
	default:
		return "name"
	}
}

// Config maps kinds to indexes and sets the cache TTL. Nest it under a
// field tagged env:"CATALOG".
type Config struct {
	FilmsIndex   string        `env:"FILMS_INDEX" envDefault:"movies" yaml:"films_index" json:"films_index"`
	GenresIndex  string        `env:"GENRES_INDEX" envDefault:"genres" yaml:"genres_index" json:"genres_index"`
	PersonsIndex string        `env:"PERSONS_INDEX" envDefault:"persons" yaml:"persons_index" json:"persons_index"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m" yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		FilmsIndex:   "movies",
		GenresIndex:  "genres",
		PersonsIndex: "persons",
		CacheTTL:     5 * time.Minute,
	}
}

func (c Config) index(k Kind) string {
	switch k {
	case KindFilms:
		return c.FilmsIndex
	case KindGenres:
		return c.GenresIndex
	default:
		return c.PersonsIndex
	}
}

// Item is a document flattened for the API: its source fields plus "uuid".
type Item map[string]any

func toItem(doc store.Document) Item {
	it := make(Item, len(doc.Source)+1)
	for k, v := range doc.Source {
		it[k] = v
	}
	it["uuid"] = doc.ID
	return it
}

// MaxResultWindow bounds page_number*page_size, the deepest result a
// search may reach. It matches the index adapter's scroll window.
const MaxResultWindow = 10000

// Query is one page of a search. An empty Text lists the whole kind.
type Query struct {
	Text       string `param:"query" validate:"max=256"`
	PageNumber int    `param:"page_number" validate:"gte=1"`
	PageSize   int    `param:"page_size" validate:"gte=1,lte=100"`
}

// Page is the search response body.
type Page struct {
	Total      int64  `json:"total"`
	PageNumber int    `json:"page_number"`
	PageSize   int    `json:"page_size"`
	Items      []Item `json:"items"`
}
