package zk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/terminal"
)

// ErrUnauthorized is returned when the terminal rejects the comm key.
var ErrUnauthorized = errors.New("zk: unauthorized (check the terminal comm key)")

var errBroken = errors.New("zk: session unusable after a failed exchange")

// CommandError reports a command the terminal answered with an unexpected
// reply code.
type CommandError struct {
	Command uint16
	Reply   uint16
}

func (e *CommandError) Error() string {
	if e.Reply == cmdAckError {
		return fmt.Sprintf("zk: command %d failed on the terminal", e.Command)
	}
	return fmt.Sprintf("zk: command %d answered with %d", e.Command, e.Reply)
}

// Dialer opens ZK sessions over TCP.
type Dialer struct {
	// Location is the zone device timestamps are interpreted in.
	Location *time.Location
	Logger   *zap.Logger
}

// NewDialer returns a Dialer decoding timestamps in loc.
func NewDialer(loc *time.Location, logger *zap.Logger) *Dialer {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{Location: loc, Logger: logger}
}

// Dial implements terminal.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg model.TerminalConfig, timeout time.Duration) (terminal.Conn, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(port))
	nd := net.Dialer{Timeout: timeout}
	nc, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		nc:      nc,
		timeout: timeout,
		loc:     loc,
		replyID: ushrtMax - 1,
		logger:  logger.With(zap.String("addr", addr)),
	}
	if err := c.connect(ctx, cfg.Password); err != nil {
		_ = nc.Close()
		return nil, err
	}
	c.logger.Debug("zk session opened", zap.Uint16("session", c.session))
	return c, nil
}

// Conn is one ZK session. It is not safe for concurrent use.
type Conn struct {
	nc      net.Conn
	timeout time.Duration
	loc     *time.Location
	session uint16
	replyID uint16
	broken  bool
	closed  bool
	userIDs map[int]string
	logger  *zap.Logger
}

func (c *Conn) connect(ctx context.Context, password int) error {
	reply, err := c.exchange(ctx, cmdConnect, nil)
	if err != nil {
		return err
	}
	c.session = reply.session
	if reply.command == cmdAckUnauth {
		reply, err = c.exchange(ctx, cmdAuth, commKey(password, c.session))
		if err != nil {
			return err
		}
	}
	switch reply.command {
	case cmdAckOK:
		return nil
	case cmdAckUnauth:
		return ErrUnauthorized
	default:
		return &CommandError{Command: cmdConnect, Reply: reply.command}
	}
}

// DeviceName reads the terminal's configured name.
func (c *Conn) DeviceName(ctx context.Context) (string, error) {
	reply, err := c.request(ctx, cmdOptionsRRQ, []byte("~DeviceName\x00"))
	if err != nil {
		return "", err
	}
	value := cstring(reply.data)
	if i := strings.LastIndexByte(value, '='); i >= 0 {
		value = value[i+1:]
	}
	return value, nil
}

// FirmwareVersion reads the terminal's firmware string.
func (c *Conn) FirmwareVersion(ctx context.Context) (string, error) {
	reply, err := c.request(ctx, cmdGetVersion, nil)
	if err != nil {
		return "", err
	}
	return cstring(reply.data), nil
}

// Users lists enrolled users. The uid to user id mapping is kept for
// decoding compact attendance records.
func (c *Conn) Users(ctx context.Context) ([]terminal.User, error) {
	sz, err := c.readSizes(ctx)
	if err != nil {
		return nil, err
	}
	buf, err := c.readBuffer(ctx, cmdUserTempRRQ, fctUser)
	if err != nil {
		return nil, err
	}
	users, err := parseUsers(buf, sz.users)
	if err != nil {
		return nil, err
	}
	c.userIDs = make(map[int]string, len(users))
	for _, u := range users {
		c.userIDs[u.UID] = u.UserID
	}
	return users, nil
}

// Attendance lists every attendance record stored on the terminal.
func (c *Conn) Attendance(ctx context.Context) ([]model.RawPunchRecord, error) {
	sz, err := c.readSizes(ctx)
	if err != nil {
		return nil, err
	}
	buf, err := c.readBuffer(ctx, cmdAttLogRRQ, 0)
	if err != nil {
		return nil, err
	}
	return parseAttendance(buf, sz.records, c.userIDs, c.loc)
}

// Close ends the session and releases the socket.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.broken {
		if err := c.nc.SetDeadline(time.Now().Add(c.timeout)); err == nil {
			if _, err := c.roundTrip(cmdExit, nil); err != nil {
				c.logger.Debug("zk exit failed", zap.Error(err))
			}
		}
	}
	return c.nc.Close()
}

func (c *Conn) readSizes(ctx context.Context) (sizes, error) {
	reply, err := c.request(ctx, cmdGetFreeSizes, nil)
	if err != nil {
		return sizes{}, err
	}
	return parseSizes(reply.data)
}

func (c *Conn) readBuffer(ctx context.Context, command uint16, fct uint32) ([]byte, error) {
	req := make([]byte, 11)
	req[0] = 1
	binary.LittleEndian.PutUint16(req[1:], command)
	binary.LittleEndian.PutUint32(req[3:], fct)

	reply, err := c.request(ctx, cmdPrepareBuffer, req)
	if err != nil {
		return nil, err
	}
	if reply.command == cmdData {
		return reply.data, nil
	}
	if len(reply.data) < 5 {
		return nil, fmt.Errorf("zk: short prepare-buffer reply (%d bytes)", len(reply.data))
	}
	size, err := announcedSize(reply.data[1:5])
	if err != nil {
		return nil, err
	}
	c.logger.Debug("zk buffered read", zap.Uint16("command", command), zap.Int("size", size))

	buf := make([]byte, 0, size)
	for start := 0; start < size; {
		n := min(maxChunk, size-start)
		chunk, err := c.readChunk(ctx, start, n)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		start += n
	}
	if _, err := c.request(ctx, cmdFreeData, nil); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Conn) readChunk(ctx context.Context, start, size int) ([]byte, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], uint32(start))
	binary.LittleEndian.PutUint32(req[4:], uint32(size))

	var out []byte
	err := c.guard(ctx, func() error {
		reply, err := c.roundTrip(cmdReadBuffer, req)
		if err != nil {
			return err
		}
		switch reply.command {
		case cmdData:
			out = reply.data
			return nil
		case cmdPrepareData:
			if len(reply.data) < 4 {
				return fmt.Errorf("zk: short prepare-data reply (%d bytes)", len(reply.data))
			}
			want, err := announcedSize(reply.data)
			if err != nil {
				return err
			}
			out = make([]byte, 0, want)
			for len(out) < want {
				p, err := readPacket(c.nc)
				if err != nil {
					return err
				}
				if p.command != cmdData {
					return &CommandError{Command: cmdReadBuffer, Reply: p.command}
				}
				out = append(out, p.data...)
			}
			ack, err := readPacket(c.nc)
			if err != nil {
				return err
			}
			if ack.command != cmdAckOK {
				return &CommandError{Command: cmdReadBuffer, Reply: ack.command}
			}
			return nil
		default:
			return &CommandError{Command: cmdReadBuffer, Reply: reply.command}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// announcedSize decodes a transfer size sent by the terminal and rejects
// sizes no real device produces.
func announcedSize(b []byte) (int, error) {
	n := binary.LittleEndian.Uint32(b)
	if n > maxPacketSize {
		return 0, fmt.Errorf("zk: terminal announced %d bytes, limit is %d", n, maxPacketSize)
	}
	return int(n), nil
}

// request sends a command and requires an accepting reply.
func (c *Conn) request(ctx context.Context, command uint16, data []byte) (packet, error) {
	reply, err := c.exchange(ctx, command, data)
	if err != nil {
		return packet{}, err
	}
	switch reply.command {
	case cmdAckOK, cmdPrepareData, cmdData:
		return reply, nil
	default:
		return packet{}, &CommandError{Command: command, Reply: reply.command}
	}
}

func (c *Conn) exchange(ctx context.Context, command uint16, data []byte) (packet, error) {
	var reply packet
	err := c.guard(ctx, func() error {
		var err error
		reply, err = c.roundTrip(command, data)
		return err
	})
	return reply, err
}

func (c *Conn) roundTrip(command uint16, data []byte) (packet, error) {
	frame, next := buildPacket(command, c.session, c.replyID, data)
	c.replyID = next
	if _, err := c.nc.Write(frame); err != nil {
		return packet{}, err
	}
	reply, err := readPacket(c.nc)
	if err != nil {
		return packet{}, err
	}
	c.replyID = reply.replyID
	return reply, nil
}

// guard bounds fn by the session timeout and the context. A failed fn
// leaves the stream in an unknown state, so the session is marked broken.
func (c *Conn) guard(ctx context.Context, fn func() error) error {
	if c.broken || c.closed {
		return errBroken
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	err := fn()
	stop()
	if err != nil {
		c.broken = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
