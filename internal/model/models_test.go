package model

import (
	"errors"
	"testing"
	"time"
)

func TestAttackRecordLine(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 1, 999, time.Local)
	rec := NewAttackRecord(at, "203.0.113.9", "root", "toor", "BR (Brazil)", 77)

	want := "2024-03-09 07:05:01|IP:203.0.113.9|USER:root|PASS:toor|LOC:BR (Brazil)|LVL:77"
	if got := rec.Line(); got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}
	if rec.EventID == "" {
		t.Error("NewAttackRecord should assign an event id")
	}
}

func TestAttackRecordLineEmptyCredentials(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	rec := NewAttackRecord(at, "198.51.100.4", "", "", "CN (China)", 10)

	want := "2024-01-01 00:00:00|IP:198.51.100.4|USER:|PASS:|LOC:CN (China)|LVL:10"
	if got := rec.Line(); got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		source string
		user   string
		pass   string
		region string
		level  int
	}{
		{
			name:   "full line",
			line:   "2024-03-09 07:05:01|IP:203.0.113.9|USER:root|PASS:toor|LOC:BR (Brazil)|LVL:77\n",
			source: "203.0.113.9", user: "root", pass: "toor", region: "BR (Brazil)", level: 77,
		},
		{
			name:   "legacy line without enrichment",
			line:   "2024-03-09 07:05:01|IP:203.0.113.9|USER:admin|PASS:admin",
			source: "203.0.113.9", user: "admin", pass: "admin", region: UnknownRegion, level: DefaultThreatLevel,
		},
		{
			name:   "password containing separator",
			line:   "2024-03-09 07:05:01|IP:10.0.0.1|USER:u|PASS:a|b|LOC:LOCAL_NET|LVL:12",
			source: "10.0.0.1", user: "u", pass: "a|b", region: "LOCAL_NET", level: 12,
		},
		{
			name:   "unparsable level",
			line:   "2024-03-09 07:05:01|IP:10.0.0.1|USER:u|PASS:p|LOC:LOCAL_NET|LVL:high",
			source: "10.0.0.1", user: "u", pass: "p", region: "LOCAL_NET", level: DefaultThreatLevel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseLine(tt.line)
			if err != nil {
				t.Fatalf("ParseLine(%q) error: %v", tt.line, err)
			}
			if rec.SourceAddress != tt.source || rec.Username != tt.user || rec.Password != tt.pass {
				t.Errorf("ParseLine(%q) = %+v", tt.line, rec)
			}
			if rec.Region != tt.region || rec.ThreatLevel != tt.level {
				t.Errorf("ParseLine(%q) region/level = %q/%d, want %q/%d",
					tt.line, rec.Region, rec.ThreatLevel, tt.region, tt.level)
			}
		})
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"not a record",
		"yesterday|IP:1.2.3.4|USER:a|PASS:b",
		"2024-03-09 07:05:01|IP:1.2.3.4|PASS:b",
	} {
		if _, err := ParseLine(line); !errors.Is(err, ErrMalformedLine) {
			t.Errorf("ParseLine(%q) error = %v, want ErrMalformedLine", line, err)
		}
	}
}

func TestParseLineRoundTripsLine(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 59, 59, 0, time.Local)
	rec := NewAttackRecord(at, "8.8.8.8", "oracle", "p@ss word", "RU (Russia)", 100)

	got, err := ParseLine(rec.Line())
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if !got.Timestamp.Equal(rec.Timestamp) || got.Password != rec.Password || got.ThreatLevel != 100 {
		t.Errorf("ParseLine(Line()) = %+v, want %+v", got, rec)
	}
}

func TestParseLineFieldMarkersInCredentials(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	tests := []struct {
		name     string
		user     string
		pass     string
		wantUser string
		wantPass string
	}{
		{"marker in password", "root", "x|PASS:y|LOC:z", "root", "x|PASS:y|LOC:z"},
		{"user marker in password", "root", "a|USER:b", "root", "a|USER:b"},
		{"marker in username", "a|PASS:x", "pw", "a", "x|PASS:pw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewAttackRecord(at, "203.0.113.9", tt.user, tt.pass, "CN (China)", 33)
			got, err := ParseLine(rec.Line())
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			if got.Username != tt.wantUser || got.Password != tt.wantPass {
				t.Errorf("user, pass = %q, %q; want %q, %q", got.Username, got.Password, tt.wantUser, tt.wantPass)
			}
			if got.Region != "CN (China)" || got.ThreatLevel != 33 || got.SourceAddress != "203.0.113.9" {
				t.Errorf("trailing fields = %+v", got)
			}
		})
	}
}
