package discovery

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// ServerEntry is one render server known to the scheduler.
type ServerEntry struct {
	Host        string
	RenderPort  int
	ControlPort int
}

// RenderAddr returns the UDP endpoint clients stream to.
func (e ServerEntry) RenderAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.RenderPort))
}

// ControlURL returns the base URL of the server's control API.
func (e ServerEntry) ControlURL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.ControlPort))
}

// matches reports whether addr (host:port) names this entry's render endpoint.
func (e ServerEntry) matches(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return host == e.Host && port == strconv.Itoa(e.RenderPort)
}

// LoadServers reads a servers.csv file.
func LoadServers(path string) ([]ServerEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open server list: %w", err)
	}
	defer f.Close()
	return ParseServers(f)
}

// ParseServers reads rows of host, render port, control port. Blank lines
// and lines starting with # are skipped.
func ParseServers(r io.Reader) ([]ServerEntry, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse server list: %w", err)
	}

	servers := make([]ServerEntry, 0, len(records))
	for i, rec := range records {
		host := strings.TrimSpace(rec[0])
		if host == "" {
			return nil, fmt.Errorf("server list row %d: empty host", i+1)
		}
		render, err := parsePort(rec[1])
		if err != nil {
			return nil, fmt.Errorf("server list row %d: render port: %w", i+1, err)
		}
		control, err := parsePort(rec[2])
		if err != nil {
			return nil, fmt.Errorf("server list row %d: control port: %w", i+1, err)
		}
		servers = append(servers, ServerEntry{Host: host, RenderPort: render, ControlPort: control})
	}
	return servers, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
