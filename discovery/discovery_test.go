package discovery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendercast/metrics"
)

func TestParseServers(t *testing.T) {
	servers, err := ParseServers(strings.NewReader("# host,render,control\n10.0.0.1,9000,50052\n10.0.0.2, 9001, 50053\n"))
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, ServerEntry{Host: "10.0.0.2", RenderPort: 9001, ControlPort: 50053}, servers[1])
	assert.Equal(t, "10.0.0.1:9000", servers[0].RenderAddr())
	assert.Equal(t, "http://10.0.0.1:50052", servers[0].ControlURL())

	for _, bad := range []string{
		"10.0.0.1,9000\n",
		"10.0.0.1,x,50052\n",
		"10.0.0.1,9000,70000\n",
		",9000,50052\n",
	} {
		_, err := ParseServers(strings.NewReader(bad))
		assert.Error(t, err, bad)
	}
}

func TestSchedulerSelect(t *testing.T) {
	s := NewScheduler([]ServerEntry{
		{Host: "10.0.0.1", RenderPort: 9000, ControlPort: 1},
		{Host: "10.0.0.2", RenderPort: 9000, ControlPort: 1},
	}, SchedulerConfig{})

	tests := []struct {
		name    string
		exclude []string
		want    string
		ok      bool
	}{
		{"none excluded", nil, "10.0.0.1", true},
		{"first excluded", []string{"10.0.0.1:9000"}, "10.0.0.2", true},
		{"port differs", []string{"10.0.0.1:9001"}, "10.0.0.1", true},
		{"malformed ignored", []string{"garbage"}, "10.0.0.1", true},
		{"all excluded", []string{"10.0.0.1:9000", "10.0.0.2:9000"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Select(tt.exclude)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Host)
		})
	}
}

// controlServer fakes a render server's control API.
func controlServer(t *testing.T, info SessionInfo) (*httptest.Server, ServerEntry, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, SessionsPath, r.URL.Path)
		var req OpenSessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int32(640), req.Width)
		_ = json.NewEncoder(w).Encode(info)
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	control, err := strconv.Atoi(port)
	require.NoError(t, err)
	return srv, ServerEntry{Host: host, RenderPort: 9000, ControlPort: control}, &calls
}

func TestEndToEndAssignment(t *testing.T) {
	_, entry, calls := controlServer(t, SessionInfo{Status: StatusOK, SessionID: 7})
	sched := httptest.NewServer(NewScheduler([]ServerEntry{entry}, SchedulerConfig{Metrics: metrics.NewScheduler()}).Router())
	defer sched.Close()

	finder := NewHTTPFinder(strings.TrimPrefix(sched.URL, "http://"), nil)
	req := Request{ClientID: uuid.New(), Version: 1, Width: 640, Height: 480}

	got, err := finder.FindServer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Assignment{Host: entry.Host, Port: 9000, SessionID: 7}, got)
	assert.Equal(t, int32(1), calls.Load())

	finder.Exclude(got.Addr())
	finder.Exclude(got.Addr())
	assert.Len(t, finder.Excluded(), 1)

	_, err = finder.FindServer(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoServer)
	assert.Equal(t, int32(1), calls.Load(), "excluded server is not contacted")
}

func TestSchedulerRefusedSession(t *testing.T) {
	_, entry, _ := controlServer(t, SessionInfo{Status: StatusUnavailable})
	s := NewScheduler([]ServerEntry{entry}, SchedulerConfig{})

	reply := s.Assign(context.Background(), Request{Width: 640})
	assert.Equal(t, StatusUnavailable, reply.Status)
}

func TestSchedulerUnreachableServer(t *testing.T) {
	s := NewScheduler([]ServerEntry{{Host: "127.0.0.1", RenderPort: 9000, ControlPort: 1}}, SchedulerConfig{OpenSessionTimeout: 200 * time.Millisecond})
	reply := s.Assign(context.Background(), Request{Width: 640})
	assert.Equal(t, StatusUnavailable, reply.Status)
}

func TestSchedulerRoutes(t *testing.T) {
	s := NewScheduler([]ServerEntry{{Host: "a", RenderPort: 1, ControlPort: 2}}, SchedulerConfig{Metrics: metrics.NewScheduler()})
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, AssignPath, strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"host":"a","render_port":1,"control_port":2}]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rendercast_scheduler_http_requests_total")
}

func TestHTTPFinderTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPFinder(srv.URL, nil).FindServer(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPFinderBadReplies(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"not json", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{")) }},
		{"bad port", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":0,"host":"h","port":0}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewHTTPFinder(srv.URL, nil).FindServer(context.Background(), Request{})
			assert.ErrorIs(t, err, ErrBadReply)
		})
	}
}

func TestFindServerSendsExclusions(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	defer srv.Close()

	f := NewHTTPFinder(srv.URL+"/", nil)
	f.Exclude("1.2.3.4:5")
	_, err := f.FindServer(context.Background(), Request{Exclude: []string{"6.7.8.9:10"}})
	assert.ErrorIs(t, err, ErrNoServer)
	assert.Equal(t, []string{"6.7.8.9:10", "1.2.3.4:5"}, got.Exclude)
}
