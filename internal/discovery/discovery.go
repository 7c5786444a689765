// Package discovery fetches nearby measurement servers and information
// about the client from speedtest.net.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/speedtest/pkg/model"
)

const (
	// DefaultBaseURL is the speedtest.net home page.
	DefaultBaseURL = "https://www.speedtest.net"

	// DefaultServersPath is the path of the servers API.
	DefaultServersPath = "/api/js/servers"

	// DefaultTTL is how long a server list is cached.
	DefaultTTL = 10 * time.Minute

	// DefaultTimeout bounds each discovery request.
	DefaultTimeout = 10 * time.Second

	// BrowserUserAgent is sent to speedtest.net, which rejects unknown
	// clients.
	BrowserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

	maxBodySize = 4 << 20
)

// ErrBadStatus is returned when speedtest.net answers with a non-200 status.
var ErrBadStatus = errors.New("unexpected status code")

var (
	reIP      = regexp.MustCompile(`"ipAddress"\s*:\s*"([^"]+)"`)
	reISP     = regexp.MustCompile(`"ispName"\s*:\s*"([^"]+)"`)
	reLat     = regexp.MustCompile(`"latitude"\s*:\s*(-?[\d.]+)`)
	reLon     = regexp.MustCompile(`"longitude"\s*:\s*(-?[\d.]+)`)
	reCountry = regexp.MustCompile(`"countryCode"\s*:\s*"([^"]+)"`)
)

// Config is the configuration of a Client. Zero values take defaults.
type Config struct {
	// BaseURL is the speedtest.net base URL.
	BaseURL string
	// TTL is how long server lists are cached.
	TTL time.Duration
	// HTTPClient is the client used for requests.
	HTTPClient *http.Client
}

// Client is a speedtest.net discovery client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *ttlcache.Cache[int, []model.Endpoint]
}

// New returns a new Client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	// Expired items are never returned by Get, so the cache does not need
	// its cleanup goroutine for a short-lived process.
	cache := ttlcache.New(
		ttlcache.WithTTL[int, []model.Endpoint](config.TTL),
		ttlcache.WithDisableTouchOnHit[int, []model.Endpoint](),
	)
	return &Client{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		http:    config.HTTPClient,
		cache:   cache,
	}
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", DefaultBaseURL)
	req.Header.Set("Referer", DefaultBaseURL+"/")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// Nearest returns up to limit servers close to the client, ordered by
// distance. Results are cached per limit.
func (c *Client) Nearest(ctx context.Context, limit int) ([]model.Endpoint, error) {
	if item := c.cache.Get(limit); item != nil {
		log.Debug("using cached server list", "limit", limit)
		return append([]model.Endpoint{}, item.Value()...), nil
	}

	q := url.Values{}
	q.Set("engine", "js")
	q.Set("https_functional", "true")
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, c.baseURL+DefaultServersPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	eps, err := ParseServers(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(eps) > limit {
		eps = eps[:limit]
	}
	c.cache.Set(limit, eps, ttlcache.DefaultTTL)
	log.Debug("fetched server list", "limit", limit, "servers", len(eps))
	return append([]model.Endpoint{}, eps...), nil
}

// ClientInfo scrapes the client's address, ISP and location from the
// speedtest.net home page. Missing fields are left empty.
func (c *Client) ClientInfo(ctx context.Context) (model.ClientInfo, error) {
	body, err := c.get(ctx, c.baseURL+"/")
	if err != nil {
		return model.ClientInfo{}, err
	}
	return ParseClientInfo(body), nil
}

// ParseClientInfo extracts ClientInfo from a speedtest.net home page.
func ParseClientInfo(html []byte) model.ClientInfo {
	extract := func(re *regexp.Regexp) string {
		m := re.FindSubmatch(html)
		if m == nil {
			return ""
		}
		return string(m[1])
	}
	lat, _ := strconv.ParseFloat(extract(reLat), 64)
	lon, _ := strconv.ParseFloat(extract(reLon), 64)
	return model.ClientInfo{
		IP:      extract(reIP),
		ISP:     extract(reISP),
		Country: extract(reCountry),
		Lat:     lat,
		Lon:     lon,
	}
}

// flexNumber decodes a JSON number that may be quoted.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

// wireServer is a server as returned by the servers API.
type wireServer struct {
	ID              flexNumber `json:"id"`
	Name            string     `json:"name"`
	Sponsor         string     `json:"sponsor"`
	Host            string     `json:"host"`
	Hostname        string     `json:"hostname"`
	Port            flexNumber `json:"port"`
	Country         string     `json:"country"`
	CC              string     `json:"cc"`
	Lat             flexNumber `json:"lat"`
	Lon             flexNumber `json:"lon"`
	Distance        flexNumber `json:"distance"`
	URL             string     `json:"url"`
	HTTPSFunctional any        `json:"httpsFunctional"`
}

func (w wireServer) endpoint() model.Endpoint {
	host, port := w.Hostname, int(w.Port)
	if hp := strings.SplitN(w.Host, ":", 2); host == "" {
		host = hp[0]
		if len(hp) == 2 && port == 0 {
			port, _ = strconv.Atoi(hp[1])
		}
	}
	if port == 0 {
		port = model.DefaultPort
	}
	return model.Endpoint{
		ID:       int(w.ID),
		Name:     w.Name,
		Sponsor:  w.Sponsor,
		Host:     host,
		Port:     port,
		Country:  w.Country,
		CC:       w.CC,
		Lat:      float64(w.Lat),
		Lon:      float64(w.Lon),
		Distance: float64(w.Distance),
		URL:      w.URL,
	}
}

// ParseServers decodes a servers API response. Entries without a host are
// skipped. The result is ordered by distance.
func ParseServers(body []byte) ([]model.Endpoint, error) {
	var wire []wireServer
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("cannot decode server list: %w", err)
	}
	eps := make([]model.Endpoint, 0, len(wire))
	for _, w := range wire {
		ep := w.endpoint()
		if ep.Host == "" {
			continue
		}
		eps = append(eps, ep)
	}
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].Distance < eps[j].Distance
	})
	return eps, nil
}
