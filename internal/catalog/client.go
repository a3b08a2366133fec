package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/foodpoll"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	searchPageSize      = 50
	searchMaxCandidates = 150
	defaultRequestRate  = 4.0
)

var errMissingBaseURL = errors.New("catalog: search base url is required")

// ClientConfig configures the business search provider client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond throttles outbound calls to the provider.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client talks to the external business search provider. Responses are
// decoded into Business records; every transport, status or parse failure
// is reported uniformly as ErrRetrieval by the catalog layer above.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient constructs the search client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	requestRate := cfg.RequestsPerSecond
	if requestRate <= 0 {
		requestRate = defaultRequestRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestRate), 1),
		logger:     logger,
	}, nil
}

type searchResponsePayload struct {
	Total      int                     `json:"total"`
	Businesses []businessRecordPayload `json:"businesses"`
}

type businessRecordPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	ImageURL    string  `json:"image_url"`
	URL         string  `json:"url"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Price       string  `json:"price"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Location struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
		ZipCode  string `json:"zip_code"`
	} `json:"location"`
}

// Search pages through the provider's results for the query and returns the
// raw candidate sequence. Pagination stops at the provider's reported total
// or the local candidate cap, whichever comes first.
func (c *Client) Search(ctx context.Context, query Query) ([]Business, error) {
	var businesses []Business
	for offset := 0; offset < searchMaxCandidates; offset += searchPageSize {
		page, total, err := c.searchPage(ctx, query, offset)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, page...)
		if len(page) < searchPageSize || offset+searchPageSize >= total {
			break
		}
	}
	return businesses, nil
}

func (c *Client) searchPage(ctx context.Context, query Query, offset int) ([]Business, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/businesses/search", nil)
	if err != nil {
		return nil, 0, err
	}
	request.URL.RawQuery = c.queryValues(query, offset).Encode()
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, 0, fmt.Errorf("catalog: provider returned status %d", response.StatusCode)
	}

	var payload searchResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("catalog: decode provider response: %w", err)
	}

	page := make([]Business, 0, len(payload.Businesses))
	for _, record := range payload.Businesses {
		address := record.Location.Address1
		if record.Location.City != "" {
			address = address + ", " + record.Location.City
		}
		page = append(page, Business{
			ID:          record.ID,
			Name:        record.Name,
			Address:     address,
			Phone:       record.Phone,
			ImageURL:    record.ImageURL,
			URL:         record.URL,
			Rating:      record.Rating,
			ReviewCount: record.ReviewCount,
			Price:       record.Price,
			Coordinate: foodpoll.Coordinate{
				Latitude:  record.Coordinates.Latitude,
				Longitude: record.Coordinates.Longitude,
			},
		})
	}
	return page, payload.Total, nil
}

func (c *Client) queryValues(query Query, offset int) url.Values {
	values := url.Values{}
	if query.Coordinate != nil {
		values.Set("latitude", strconv.FormatFloat(query.Coordinate.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(query.Coordinate.Longitude, 'f', -1, 64))
	} else {
		values.Set("location", query.ZipCode)
	}
	if providerValue := query.Price.ProviderValue(); providerValue > 0 {
		values.Set("price", strconv.Itoa(providerValue))
	}
	if query.OpenNow {
		values.Set("open_now", "true")
	}
	values.Set("limit", strconv.Itoa(searchPageSize))
	values.Set("offset", strconv.Itoa(offset))
	return values
}
