package zk

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/terminal"
)

const (
	userRecordShort = 28
	userRecordLong  = 72

	attRecordShort  = 8
	attRecordMedium = 16
	attRecordLong   = 40
)

// sizes mirrors the counters returned by CMD_GET_FREE_SIZES.
type sizes struct {
	users   int
	records int
}

func parseSizes(data []byte) (sizes, error) {
	if len(data) < 80 {
		return sizes{}, fmt.Errorf("zk: short sizes reply (%d bytes)", len(data))
	}
	field := func(i int) int {
		return int(int32(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return sizes{users: field(4), records: field(8)}, nil
}

// splitBuffer strips the leading total-size word of a buffered read and
// returns the record bytes.
func splitBuffer(buf []byte) ([]byte, int, error) {
	if len(buf) <= 4 {
		return nil, 0, nil
	}
	total := int(binary.LittleEndian.Uint32(buf[:4]))
	body := buf[4:]
	if total > len(body) {
		return nil, 0, fmt.Errorf("zk: buffer announces %d bytes, got %d", total, len(body))
	}
	return body[:total], total, nil
}

func parseUsers(buf []byte, count int) ([]terminal.User, error) {
	body, total, err := splitBuffer(buf)
	if err != nil || total == 0 || count <= 0 {
		return nil, err
	}
	size := total / count
	var users []terminal.User
	switch size {
	case userRecordShort:
		for off := 0; off+userRecordShort <= len(body); off += userRecordShort {
			rec := body[off : off+userRecordShort]
			users = append(users, terminal.User{
				UID:       int(binary.LittleEndian.Uint16(rec[0:])),
				Privilege: int(rec[2]),
				Name:      cstring(rec[8:16]),
				UserID:    strconv.FormatUint(uint64(binary.LittleEndian.Uint32(rec[24:])), 10),
			})
		}
	case userRecordLong:
		for off := 0; off+userRecordLong <= len(body); off += userRecordLong {
			rec := body[off : off+userRecordLong]
			users = append(users, terminal.User{
				UID:       int(binary.LittleEndian.Uint16(rec[0:])),
				Privilege: int(rec[2]),
				Name:      cstring(rec[11:35]),
				UserID:    cstring(rec[48:72]),
			})
		}
	default:
		return nil, fmt.Errorf("zk: unsupported user record size %d", size)
	}
	return users, nil
}

func parseAttendance(buf []byte, count int, byUID map[int]string, loc *time.Location) ([]model.RawPunchRecord, error) {
	body, total, err := splitBuffer(buf)
	if err != nil || total == 0 || count <= 0 {
		return nil, err
	}
	size := total / count
	if size != attRecordShort && size != attRecordMedium && size < attRecordLong {
		return nil, fmt.Errorf("zk: unsupported attendance record size %d", size)
	}

	records := make([]model.RawPunchRecord, 0, count)
	for off := 0; off+size <= len(body); off += size {
		rec := body[off : off+size]
		switch size {
		case attRecordShort:
			uid := int(binary.LittleEndian.Uint16(rec[0:]))
			userID, ok := byUID[uid]
			if !ok {
				userID = strconv.Itoa(uid)
			}
			records = append(records, model.RawPunchRecord{
				UID:       uid,
				UserID:    userID,
				State:     int(rec[2]),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(rec[3:]), loc),
				Verify:    int(rec[7]),
			})
		case attRecordMedium:
			userID := binary.LittleEndian.Uint32(rec[0:])
			records = append(records, model.RawPunchRecord{
				UserID:    strconv.FormatUint(uint64(userID), 10),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(rec[4:]), loc),
				State:     int(rec[8]),
				Verify:    int(rec[9]),
			})
		default:
			records = append(records, model.RawPunchRecord{
				UID:       int(binary.LittleEndian.Uint16(rec[0:])),
				UserID:    cstring(rec[2:26]),
				State:     int(rec[26]),
				Timestamp: decodeTime(binary.LittleEndian.Uint32(rec[27:]), loc),
				Verify:    int(rec[31]),
			})
		}
	}
	return records, nil
}
