// Package tracker implements the §4.4 tracker HTTP client: publishing this
// node's own addresses under a peering id, and querying other peering ids
// for best-effort address hints.
package tracker

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/teapotnet/teapotnet/pkg/address"
	"github.com/teapotnet/teapotnet/pkg/identifier"
)

// Config carries the settings a Client needs: the tracker host and the
// HTTP timeout to apply to both publish and query requests.
type Config struct {
	Host    string
	Timeout time.Duration
}

// DefaultTimeout matches the documented tpot_timeout default used
// elsewhere for short request/response round trips.
const DefaultTimeout = 15 * time.Second

// Client publishes and queries peering address hints against one or more
// configured trackers. A single Client may be shared by every goroutine
// that needs tracker access; it holds no mutable state beyond the
// http.Client it wraps.
type Client struct {
	hosts []string
	http  *http.Client
}

// New builds a Client against the given tracker hostnames (scheme-less,
// e.g. "tracker.example.org:8080"). At least one host must be given.
func New(hosts []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		hosts: hosts,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) logger() *log.Entry {
	return log.WithField("component", "tracker")
}

// PublishInfo is the set of optional fields a Publish call may advertise
// for a peering id, per the §4.4/§6 wire contract.
type PublishInfo struct {
	Host      string
	Port      uint16
	Addresses []address.Address
	Instance  string
	Alternate bool
}

// Publish posts id's current address hints to every configured tracker.
// Per the resolved semantics, publishing succeeds as a whole as soon as at
// least one tracker answers 200; every tracker is still attempted so a
// node isn't left depending on a single reachable instance. Returns an
// error only when every tracker rejected or was unreachable.
func (c *Client) Publish(id identifier.Identifier, info PublishInfo) error {
	form := url.Values{}
	if info.Host != "" {
		form.Set("host", info.Host)
	}
	if info.Port != 0 {
		form.Set("port", fmt.Sprintf("%d", info.Port))
	}
	if len(info.Addresses) > 0 {
		parts := make([]string, len(info.Addresses))
		for i, a := range info.Addresses {
			parts[i] = a.String()
		}
		form.Set("addresses", strings.Join(parts, ","))
	}
	if info.Instance != "" {
		form.Set("instance", info.Instance)
	}
	if info.Alternate {
		form.Set("alternate", "1")
	}

	var lastErr error
	succeeded := false
	for _, host := range c.hosts {
		u := fmt.Sprintf("http://%s/tracker/%s", host, id.String())
		resp, err := c.http.PostForm(u, form)
		if err != nil {
			lastErr = err
			c.logger().WithError(err).WithField("tracker", host).Debug("publish failed")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			succeeded = true
			continue
		}
		lastErr = fmt.Errorf("tracker: %s responded %s", host, resp.Status)
	}
	if !succeeded {
		if lastErr == nil {
			lastErr = fmt.Errorf("tracker: no trackers configured")
		}
		return lastErr
	}
	return nil
}

// QueryResult is the decoded form of the YAML mapping a tracker GET
// returns: instance name to a randomized permutation of known addresses.
// The empty-string instance key holds addresses published with no
// instance suffix.
type QueryResult map[string][]string

// Query asks every configured tracker for id's known addresses and merges
// the results, tracker order first-wins per instance (an earlier tracker's
// answer for an instance is kept over a later one's). alternate selects
// the fallback/relay address set instead of the primary one.
func (c *Client) Query(id identifier.Identifier, alternate bool) (QueryResult, error) {
	merged := make(QueryResult)
	var lastErr error
	queried := false

	for _, host := range c.hosts {
		u := fmt.Sprintf("http://%s/tracker/%s", host, id.String())
		if alternate {
			u += "?alternate=1"
		}
		resp, err := c.http.Get(u)
		if err != nil {
			lastErr = err
			c.logger().WithError(err).WithField("tracker", host).Debug("query failed")
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("tracker: %s responded %s", host, resp.Status)
			continue
		}
		queried = true

		var parsed QueryResult
		if len(strings.TrimSpace(string(body))) == 0 {
			parsed = QueryResult{}
		} else if err := yaml.Unmarshal(body, &parsed); err != nil {
			lastErr = fmt.Errorf("tracker: %s: malformed response: %w", host, err)
			continue
		}
		for instance, addrs := range parsed {
			if _, ok := merged[instance]; !ok {
				merged[instance] = addrs
			}
		}
	}

	if !queried {
		if lastErr == nil {
			lastErr = fmt.Errorf("tracker: no trackers configured")
		}
		return nil, lastErr
	}
	return merged, nil
}

// Addresses flattens a QueryResult to a single deduplicated address list,
// for callers that don't care which instance answered.
func (r QueryResult) Addresses() []string {
	seen := make(map[string]bool)
	var out []string
	for _, addrs := range r {
		for _, a := range addrs {
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
