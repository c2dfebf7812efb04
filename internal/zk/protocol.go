// Package zk implements the terminal contract over the ZKTeco TCP protocol.
package zk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Command and reply codes.
const (
	cmdConnect       = 1000
	cmdExit          = 1001
	cmdGetVersion    = 1100
	cmdAuth          = 1102
	cmdOptionsRRQ    = 11
	cmdUserTempRRQ   = 9
	cmdAttLogRRQ     = 13
	cmdGetFreeSizes  = 50
	cmdPrepareData   = 1500
	cmdData          = 1501
	cmdFreeData      = 1502
	cmdPrepareBuffer = 1503
	cmdReadBuffer    = 1504

	cmdAckOK     = 2000
	cmdAckError  = 2001
	cmdAckUnauth = 2005
)

const fctUser = 5

const (
	ushrtMax      = 65535
	headerSize    = 8
	topSize       = 8
	maxPacketSize = 1 << 24
)

// DefaultPort is the TCP port terminals listen on.
const DefaultPort = 4370

var magic = []byte{0x50, 0x50, 0x82, 0x7d}

// maxChunk is the largest buffer slice requested per read.
var maxChunk = 0xFFC0

var errBadMagic = errors.New("zk: bad packet magic")

type packet struct {
	command  uint16
	checksum uint16
	session  uint16
	replyID  uint16
	data     []byte
}

// checksum follows the device's one's-complement style sum over 16-bit
// little-endian words.
func checksum(b []byte) uint16 {
	sum := 0
	for len(b) > 1 {
		sum += int(binary.LittleEndian.Uint16(b))
		b = b[2:]
		if sum > ushrtMax {
			sum -= ushrtMax
		}
	}
	if len(b) == 1 {
		sum += int(b[0])
	}
	for sum > ushrtMax {
		sum -= ushrtMax
	}
	sum = ^sum
	for sum < 0 {
		sum += ushrtMax
	}
	return uint16(sum)
}

func encodeHeader(command, sum, session, replyID uint16, data []byte) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:], command)
	binary.LittleEndian.PutUint16(buf[2:], sum)
	binary.LittleEndian.PutUint16(buf[4:], session)
	binary.LittleEndian.PutUint16(buf[6:], replyID)
	copy(buf[headerSize:], data)
	return buf
}

// buildPacket frames a request. The checksum covers the header carrying the
// previous reply id while the wire header carries the next one; terminals
// expect exactly this.
func buildPacket(command, session, replyID uint16, data []byte) ([]byte, uint16) {
	sum := checksum(encodeHeader(command, 0, session, replyID, data))
	next := int(replyID) + 1
	if next >= ushrtMax {
		next -= ushrtMax
	}
	body := encodeHeader(command, sum, session, uint16(next), data)

	frame := make([]byte, topSize, topSize+len(body))
	copy(frame, magic)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(body)))
	return append(frame, body...), uint16(next)
}

func readPacket(r io.Reader) (packet, error) {
	var top [topSize]byte
	if _, err := io.ReadFull(r, top[:]); err != nil {
		return packet{}, err
	}
	if !bytes.Equal(top[:4], magic) {
		return packet{}, errBadMagic
	}
	length := binary.LittleEndian.Uint32(top[4:])
	if length < headerSize || length > maxPacketSize {
		return packet{}, fmt.Errorf("zk: invalid packet length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet{}, err
	}
	return packet{
		command:  binary.LittleEndian.Uint16(body[0:]),
		checksum: binary.LittleEndian.Uint16(body[2:]),
		session:  binary.LittleEndian.Uint16(body[4:]),
		replyID:  binary.LittleEndian.Uint16(body[6:]),
		data:     body[headerSize:],
	}, nil
}

// commKey scrambles the numeric device password with the session id for
// CMD_AUTH.
func commKey(password int, session uint16) []byte {
	key := uint32(password)
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(session)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'
	// swap the two 16-bit halves
	b = [4]byte{b[2], b[3], b[0], b[1]}

	const ticks = 50
	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}

// decodeTime unpacks the device's minute-packed timestamp encoding.
func decodeTime(v uint32, loc *time.Location) time.Time {
	second := int(v % 60)
	v /= 60
	minute := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12 + 1)
	v /= 12
	year := int(v) + 2000
	return time.Date(year, month, day, hour, minute, second, 0, loc)
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
