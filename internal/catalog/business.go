package catalog

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
)

// Business is an externally sourced restaurant record eligible for voting.
// It is read-only once fetched; the external identifier is the dedup key
// and the candidate id votes reference.
type Business struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Address     string              `json:"address"`
	Phone       string              `json:"phone"`
	ImageURL    string              `json:"image_url"`
	URL         string              `json:"url"`
	Rating      float64             `json:"rating"`
	ReviewCount int                 `json:"review_count"`
	Price       string              `json:"price"`
	Coordinate  foodpoll.Coordinate `json:"coordinate"`
}

// Query is the location-scoped candidate search derived from a poll's
// settings. Exactly one of Coordinate and ZipCode should be set, mirroring
// the poll's location specifier invariant.
type Query struct {
	Coordinate *foodpoll.Coordinate
	ZipCode    string
	Price      foodpoll.PriceLevel
	OpenNow    bool
}

// QueryFromPoll derives the candidate query from a poll's settings.
func QueryFromPoll(poll foodpoll.Poll) Query {
	query := Query{
		ZipCode: poll.ZipCode,
		Price:   poll.Price,
		OpenNow: poll.OpenNow,
	}
	if poll.Coordinate != nil {
		coordinate := *poll.Coordinate
		query.Coordinate = &coordinate
	}
	return query
}

// normalized returns the cache key for the query. Coordinates round to four
// decimal places (roughly ten meters) so nearby fixes share a cache entry.
func (q Query) normalized() string {
	location := "zip=" + q.ZipCode
	if q.Coordinate != nil {
		location = fmt.Sprintf("lat=%.4f,lon=%.4f", q.Coordinate.Latitude, q.Coordinate.Longitude)
	}
	return fmt.Sprintf("%s|price=%d|open=%t", location, q.Price.ProviderValue(), q.OpenNow)
}
