// Package discovery finds render servers for clients.
//
// The client side is the Finder interface with an HTTP implementation,
// HTTPFinder, which posts to a scheduler and remembers servers the client
// has given up on. The scheduler side, Scheduler, reads a servers.csv of
// host, render port and control port, picks the first server the client
// has not excluded and opens a session on it through the server's control
// API.
//
//	client --POST /v1/assign--> scheduler --POST /v1/sessions--> server
package discovery
