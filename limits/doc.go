// Package limits provides centralized size constants and validation functions
// for the rendercast datagram protocol.
//
// # Size Hierarchy
//
//   - MTU (1..MaxMTU bytes): payload carried by a single fragment, excluding the
//     one-byte fragment header. DefaultMTU keeps datagrams under a typical
//     Ethernet frame.
//
//   - MaxReassemblyBuffer (5MB): the largest message a receiver will reassemble
//     from fragments. Anything larger resets the reassembly cursor and is lost.
//
//   - MaxSceneSnapshot (5MB): the largest serialized scene a client will send.
//
// # Validation Functions
//
//	if err := limits.ValidateMTU(cfg.MTU); err != nil {
//	    return err
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Error Types
//
//   - ErrMessageEmpty: Returned when an empty or nil message is provided
//   - ErrMessageTooLarge: Returned when message exceeds the specified limit
//   - ErrInvalidMTU: Returned when an MTU cannot be used by the framer
package limits
