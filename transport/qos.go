package transport

import (
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Common DSCP code points for interactive media.
const (
	DSCPBestEffort = 0
	// DSCPExpedited is EF (46), used for latency-sensitive media.
	DSCPExpedited = 46
	// DSCPAssured41 is AF41 (34), the usual class for interactive video.
	DSCPAssured41 = 34
)

// QoS configures Differentiated Services marking of outbound datagrams.
type QoS struct {
	// DSCP is the 6-bit code point. Zero leaves the socket untouched.
	DSCP int
}

// Enabled reports whether marking was requested.
func (q QoS) Enabled() bool {
	return q.DSCP > 0 && q.DSCP < 64
}

// Apply marks conn with the configured code point. IPv4 sockets get the TOS
// byte, IPv6 sockets the traffic class. Failure is logged and otherwise
// ignored since marking is advisory.
func (q QoS) Apply(conn *net.UDPConn) {
	if !q.Enabled() || conn == nil {
		return
	}

	tos := q.DSCP << 2
	local, _ := conn.LocalAddr().(*net.UDPAddr)

	var err error
	if local != nil && local.IP.To4() == nil && !local.IP.IsUnspecified() {
		err = ipv6.NewConn(conn).SetTrafficClass(tos)
	} else {
		err = ipv4.NewConn(conn).SetTOS(tos)
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "QoS.Apply",
			"dscp":     q.DSCP,
			"local":    conn.LocalAddr().String(),
			"error":    err.Error(),
		}).Warn("Failed to set DSCP marking")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "QoS.Apply",
		"dscp":     q.DSCP,
	}).Debug("DSCP marking applied")
}
