package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// AssignPath is the scheduler route that assigns render servers.
const AssignPath = "/v1/assign"

// HTTPFinder asks a scheduler over HTTP and keeps the client's exclusion
// list.
type HTTPFinder struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	excluded []string
}

// NewHTTPFinder creates a finder for the scheduler at host, which may be a
// bare host:port or a URL. A nil client uses http.DefaultClient.
func NewHTTPFinder(host string, client *http.Client) *HTTPFinder {
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &HTTPFinder{baseURL: base, client: client}
}

// Exclude implements Finder.
func (f *HTTPFinder) Exclude(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.excluded {
		if e == addr {
			return
		}
	}
	f.excluded = append(f.excluded, addr)
}

// Excluded returns a copy of the exclusion list.
func (f *HTTPFinder) Excluded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.excluded...)
}

// FindServer implements Finder. The finder's exclusion list is appended to
// req.Exclude.
func (f *HTTPFinder) FindServer(ctx context.Context, req Request) (Assignment, error) {
	req.Exclude = append(append([]string(nil), req.Exclude...), f.Excluded()...)

	body, err := json.Marshal(req)
	if err != nil {
		return Assignment{}, fmt.Errorf("encode assign request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+AssignPath, bytes.NewReader(body))
	if err != nil {
		return Assignment{}, fmt.Errorf("build assign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "HTTPFinder.FindServer",
				"scheduler": f.baseURL,
			}).Warn("Schedule server timeout")
			return Assignment{}, ctx.Err()
		}
		return Assignment{}, fmt.Errorf("assign request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Assignment{}, fmt.Errorf("%w: HTTP %d", ErrBadReply, resp.StatusCode)
	}

	var reply AssignReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Assignment{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	if reply.Status != StatusOK {
		return Assignment{}, ErrNoServer
	}
	if reply.Host == "" || reply.Port <= 0 || reply.Port > 65535 {
		return Assignment{}, fmt.Errorf("%w: endpoint %q:%d", ErrBadReply, reply.Host, reply.Port)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "HTTPFinder.FindServer",
		"server":     reply.Addr(),
		"session_id": reply.SessionID,
	}).Debug("Server assigned")
	return reply.Assignment, nil
}
