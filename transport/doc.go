// Package transport moves rendercast messages over raw UDP.
//
// # Architecture
//
// Messages are arbitrary byte strings (a serialized scene going up, an encoded
// frame coming down). They are split into datagrams of at most MTU payload
// bytes, each prefixed with a one-byte control header:
//
//	bit 0  START  discard any partial message, begin a new one
//	bit 1  END    this fragment completes the message
//
// A message that fits one datagram carries both bits (0x03). There are no
// sequence numbers: the receiver appends fragments in arrival order, so loss or
// reordering corrupts the message in flight. Frame requests are protected by a
// trailing CRC-32C; frame responses rely on the decoder to reject damage.
//
// # Client Session
//
//	sess, err := transport.Dial(ctx, serverAddr, transport.DefaultSessionConfig())
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	_ = sess.Send(ctx, payload)
//	for msg := range sess.Messages() {
//	    // handle one reassembled frame response
//	}
//
// # Server Listener
//
//	l, err := transport.Listen(ctx, ":19000", transport.DefaultListenerConfig())
//	go l.Run(ctx)
//	for req := range l.Requests() {
//	    _ = l.Enqueue(transport.Response{Remote: req.Remote, Data: reply})
//	}
//
// Inbound and outbound hand-offs are bounded channels. When one is full the
// newest message is dropped, a warning is logged and a counter in Stats is
// incremented; the transport never blocks a producer.
//
// # Wire Messages
//
// FrameRequest (client to server), all integers little-endian:
//
//	sessionId:int32 | frameSeq:int32 | scene:bytes | crc32c:uint32
//
// FrameResponse (server to client):
//
//	frameSeq:int32 | payload:bytes
//
// # Quality of Service
//
// QoS optionally sets the DSCP code point on outbound datagrams through
// golang.org/x/net/ipv4 and ipv6. Marking is advisory and failures are only
// logged.
package transport
