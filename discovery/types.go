package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Reply status codes shared by the scheduler and the server control API.
const (
	StatusOK          int32 = 0
	StatusUnavailable int32 = 1
)

var (
	// ErrNoServer indicates that no render server could take the client.
	ErrNoServer = errors.New("no render server available")

	// ErrBadReply indicates an unparseable or unexpected reply.
	ErrBadReply = errors.New("bad discovery reply")
)

// Request asks the scheduler for a render server.
type Request struct {
	ClientID uuid.UUID `json:"client_id"`
	Version  int32     `json:"version"`
	Width    int32     `json:"res_x"`
	Height   int32     `json:"res_y"`
	Exclude  []string  `json:"ex_servers,omitempty"`
}

// Assignment is a render server endpoint plus the session opened on it.
type Assignment struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	SessionID int32  `json:"session_id"`
}

// Addr returns the host:port of the render endpoint.
func (a Assignment) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// AssignReply is the scheduler's answer to a Request.
type AssignReply struct {
	Status int32 `json:"status"`
	Assignment
}

// OpenSessionRequest asks a render server to open a session.
type OpenSessionRequest struct {
	Version int32 `json:"version"`
	Width   int32 `json:"res_x"`
	Height  int32 `json:"res_y"`
}

// SessionInfo is a render server's answer to OpenSessionRequest.
type SessionInfo struct {
	Status    int32 `json:"status"`
	SessionID int32 `json:"session_id"`
}

// Finder locates render servers for a client.
type Finder interface {
	// FindServer returns an assignment, ErrNoServer, or a context error.
	// Callers treat all failures alike and retry later.
	FindServer(ctx context.Context, req Request) (Assignment, error)
	// Exclude stops addr (host:port) from being assigned again.
	Exclude(addr string)
}
