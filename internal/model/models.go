package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the second-precision local time written at the start
// of every attack log line.
const TimestampLayout = "2006-01-02 15:04:05"

// Defaults for log lines written before region and level were recorded.
const (
	UnknownRegion      = "UNKNOWN"
	DefaultThreatLevel = 50
)

var ErrMalformedLine = errors.New("malformed attack log line")

// -------------------- ATTACK RECORD --------------------

// AttackRecord is one credential pair captured from an untrusted peer.
// It is built once per completed exchange and not modified afterwards.
type AttackRecord struct {
	EventID       string    `json:"event_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	SourceAddress string    `json:"source_address"`
	Username      string    `json:"username"`
	Password      string    `json:"password"`
	Region        string    `json:"region"`
	ThreatLevel   int       `json:"threat_level"`
}

func NewAttackRecord(at time.Time, source, username, password, region string, threat int) *AttackRecord {
	return &AttackRecord{
		EventID:       uuid.NewString(),
		Timestamp:     at.Truncate(time.Second),
		SourceAddress: source,
		Username:      username,
		Password:      password,
		Region:        region,
		ThreatLevel:   threat,
	}
}

// Line renders the record without a trailing newline. Credentials are
// written raw.
func (r *AttackRecord) Line() string {
	var b strings.Builder
	b.Grow(64 + len(r.SourceAddress) + len(r.Username) + len(r.Password) + len(r.Region))
	b.WriteString(r.Timestamp.Format(TimestampLayout))
	b.WriteString("|IP:")
	b.WriteString(r.SourceAddress)
	b.WriteString("|USER:")
	b.WriteString(r.Username)
	b.WriteString("|PASS:")
	b.WriteString(r.Password)
	b.WriteString("|LOC:")
	b.WriteString(r.Region)
	b.WriteString("|LVL:")
	b.WriteString(strconv.Itoa(r.ThreatLevel))
	return b.String()
}

// ParseLine reads a line produced by Line. Lines lacking LOC or LVL get
// UnknownRegion and DefaultThreatLevel. The trailing fields are located
// from the end so a password containing '|' still parses.
func ParseLine(line string) (*AttackRecord, error) {
	line = strings.TrimRight(line, "\r\n")

	ts, rest, ok := strings.Cut(line, "|IP:")
	if !ok {
		return nil, fmt.Errorf("%w: missing IP field", ErrMalformedLine)
	}
	at, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedLine, ts)
	}

	rec := &AttackRecord{
		Timestamp:   at,
		Region:      UnknownRegion,
		ThreatLevel: DefaultThreatLevel,
	}

	if i := strings.LastIndex(rest, "|LVL:"); i >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(rest[i+len("|LVL:"):])); err == nil {
			rec.ThreatLevel = n
		}
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "|LOC:"); i >= 0 {
		if loc := rest[i+len("|LOC:"):]; loc != "" {
			rec.Region = loc
		}
		rest = rest[:i]
	}

	source, rest, ok := strings.Cut(rest, "|USER:")
	if !ok {
		return nil, fmt.Errorf("%w: missing USER field", ErrMalformedLine)
	}
	rec.SourceAddress = source

	// The first |PASS: wins: a password containing it survives, a username
	// containing it does not.
	user, pass, ok := strings.Cut(rest, "|PASS:")
	if !ok {
		return nil, fmt.Errorf("%w: missing PASS field", ErrMalformedLine)
	}
	rec.Username = user
	rec.Password = pass

	return rec, nil
}
