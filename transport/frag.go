package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rendercast/limits"
	"github.com/sirupsen/logrus"
)

// Fragment header bits. Bits 2-7 are unused and always zero.
const (
	// FlagStart tells the receiver to discard any partially assembled message
	// and begin a new one at offset 0.
	FlagStart byte = 0x01
	// FlagEnd marks the fragment that completes a message.
	FlagEnd byte = 0x02
)

var (
	// ErrShortWrite is returned when the socket accepted fewer bytes than a fragment holds.
	ErrShortWrite = errors.New("short datagram write")

	// ErrReassemblyOverflow is returned when a message outgrows the reassembly buffer.
	ErrReassemblyOverflow = errors.New("reassembly buffer overflow")
)

// fragmentPlan computes how a payload is split: the number of full (mtu sized)
// fragments that precede the final fragment, and the size of that final fragment.
// A payload that is an exact multiple of mtu gets one fewer full fragment so the
// END fragment is never empty.
func fragmentPlan(length, mtu int) (fullFrames, bytesLeft int) {
	fullFrames = length / mtu
	bytesLeft = length % mtu
	if bytesLeft == 0 {
		fullFrames--
		bytesLeft = mtu
	}
	return fullFrames, bytesLeft
}

// Fragment splits payload into MTU-sized datagrams, each prefixed with a one-byte
// control header.
//
// The first fragment of every message carries FlagStart and the last carries
// FlagEnd; a message that fits one datagram carries both (0x03). An empty payload
// produces no datagrams.
//
// Parameters:
//   - payload: Message to split
//   - mtu: Maximum payload bytes per datagram, excluding the header
//
// Returns:
//   - [][]byte: Datagrams in transmission order
//   - error: limits.ErrInvalidMTU when mtu cannot be used
func Fragment(payload []byte, mtu int) ([][]byte, error) {
	if err := limits.ValidateMTU(mtu); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}

	fullFrames, _ := fragmentPlan(len(payload), mtu)
	datagrams := make([][]byte, 0, fullFrames+1)
	err := WriteFragments(payload, mtu, func(datagram []byte) (int, error) {
		datagrams = append(datagrams, append([]byte(nil), datagram...))
		return len(datagram), nil
	})
	if err != nil {
		return nil, err
	}
	return datagrams, nil
}

// WriteFragments fragments payload and hands each datagram to write in order,
// waiting for every write before building the next fragment. A single scratch
// buffer is reused for all fragments, so write must not retain the slice.
//
// A failed or short write aborts the message and is returned to the caller;
// the remaining fragments are not sent.
func WriteFragments(payload []byte, mtu int, write func(datagram []byte) (int, error)) error {
	if err := limits.ValidateMTU(mtu); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	fullFrames, bytesLeft := fragmentPlan(len(payload), mtu)
	scratch := make([]byte, limits.FragmentHeaderSize+min(mtu, len(payload)))

	sent := 0
	for i := 0; i < fullFrames; i++ {
		header := byte(0x00)
		if i == 0 {
			header = FlagStart
		}
		datagram := scratch[:limits.FragmentHeaderSize+mtu]
		datagram[0] = header
		copy(datagram[1:], payload[sent:sent+mtu])
		if err := writeDatagram(write, datagram); err != nil {
			return fmt.Errorf("fragment %d/%d: %w", i+1, fullFrames+1, err)
		}
		sent += mtu
	}

	header := FlagEnd
	if fullFrames == 0 {
		header |= FlagStart
	}
	datagram := scratch[:limits.FragmentHeaderSize+bytesLeft]
	datagram[0] = header
	copy(datagram[1:], payload[sent:sent+bytesLeft])
	if err := writeDatagram(write, datagram); err != nil {
		return fmt.Errorf("fragment %d/%d: %w", fullFrames+1, fullFrames+1, err)
	}
	return nil
}

func writeDatagram(write func([]byte) (int, error), datagram []byte) error {
	n, err := write(datagram)
	if err != nil {
		return err
	}
	if n != len(datagram) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(datagram))
	}
	return nil
}

// Reassembler rebuilds messages from fragments sent by a single remote endpoint.
//
// Reassembly assumes strictly ordered delivery: there are no sequence numbers, so
// a lost or reordered fragment silently corrupts the message being assembled.
// Integrity of the result is checked by the layer above where it matters.
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	buf      []byte
	capacity int
}

// NewReassembler creates a reassembler whose messages may grow to capacity bytes.
// A non-positive capacity selects limits.MaxReassemblyBuffer.
func NewReassembler(capacity int) *Reassembler {
	if capacity <= 0 {
		capacity = limits.MaxReassemblyBuffer
	}
	return &Reassembler{capacity: capacity}
}

// Push feeds one datagram into the reassembler.
//
// Datagrams shorter than two bytes carry no payload and are ignored. A START
// fragment discards any partial message. When the END fragment arrives the
// completed message is returned as a fresh slice and the cursor resets.
//
// Returns:
//   - []byte: Completed message, or nil while a message is still partial
//   - error: ErrReassemblyOverflow if the message outgrew the buffer (it is lost)
func (r *Reassembler) Push(datagram []byte) ([]byte, error) {
	if len(datagram) <= limits.FragmentHeaderSize {
		return nil, nil
	}

	header := datagram[0]
	if header&FlagStart != 0 {
		r.buf = r.buf[:0]
	}

	payload := datagram[limits.FragmentHeaderSize:]
	if total := len(r.buf) + len(payload); total > r.capacity {
		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.Push",
			"buffered": len(r.buf),
			"incoming": len(payload),
			"capacity": r.capacity,
		}).Error("Reassembly buffer too small, discarding message")
		r.buf = r.buf[:0]
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrReassemblyOverflow, total, r.capacity)
	}
	r.buf = append(r.buf, payload...)

	if header&FlagEnd == 0 {
		return nil, nil
	}

	message := make([]byte, len(r.buf))
	copy(message, r.buf)
	r.buf = r.buf[:0]
	return message, nil
}

// Buffered returns the number of bytes of the message currently being assembled.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops any partially assembled message.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}
