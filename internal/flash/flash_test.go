// internal/flash/flash_test.go
package flash

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benchline/provisioner/internal/console"
)

// ---- fake console ----

// fakeConsole emulates the firmware side: each sent command appends the
// reply function's output to a stream, and Await runs the real matcher
// over that stream with consume-on-match semantics.
type fakeConsole struct {
	reply  func(line string) string
	sends  []string
	stream []byte
}

func (f *fakeConsole) Send(line string) error {
	f.sends = append(f.sends, line)
	f.stream = append(f.stream, f.reply(line)...)
	return nil
}

func (f *fakeConsole) Await(patterns []console.Pattern, timeout time.Duration) (int, string, error) {
	idx, start, end, ok := console.FirstMatch(f.stream, patterns)
	if !ok {
		return 0, "", fmt.Errorf("fake console: no match: %w", console.ErrTimeout)
	}
	text := string(f.stream[start:end])
	f.stream = f.stream[end:]
	return idx, text, nil
}

// ubootReply scripts a healthy firmware for the given staged file size.
func ubootReply(fileSize int) func(string) string {
	return func(line string) string {
		switch {
		case strings.HasPrefix(line, "mw "):
			return "=> "
		case strings.HasPrefix(line, "fatload "):
			return fmt.Sprintf("%d bytes read\n=> ", fileSize)
		case strings.HasPrefix(line, "sf probe"):
			return "SF: Detected mx25l6405d with page size 64 KiB, total 8 MiB\n=> "
		case strings.HasPrefix(line, "sf update "):
			return fmt.Sprintf("%d bytes written, 0 bytes skipped\n=> ", fileSize)
		case strings.HasPrefix(line, "sf write "):
			var scratch, offset, size uint32
			fmt.Sscanf(line, "sf write %x %x %x", &scratch, &offset, &size)
			return fmt.Sprintf("SF: %d bytes @ 0x%x Written: OK\n=> ", size, offset)
		}
		return ""
	}
}

// ---- parse tests ----

func TestParseBytesRead_ExactShape(t *testing.T) {
	n, err := parseBytesRead("1234567 bytes read")
	if err != nil {
		t.Fatalf("parseBytesRead() err=%v", err)
	}
	if n != 1234567 {
		t.Fatalf("n = %d", n)
	}
}

func TestParseBytesRead_Malformed(t *testing.T) {
	cases := []struct {
		line   string
		reason string
	}{
		{"bytes read", ReasonUnexpectedReply},                // missing count token
		{"123 bytes read extra", ReasonUnexpectedReply},      // extra token
		{"123 bytes written", ReasonUnexpectedReply},         // wrong verb
		{"", ReasonUnexpectedReply},                          // empty
		{"12x3 bytes read", ReasonBadByteCount},              // non-numeric count
		{"-5 bytes read", ReasonBadByteCount},                // negative count
		{"99999999999999999999 bytes read", ReasonBadByteCount}, // overflow
	}

	for _, c := range cases {
		_, err := parseBytesRead(c.line)
		var re *ReplyError
		if !errors.As(err, &re) {
			t.Fatalf("%q: expected *ReplyError, got %v", c.line, err)
		}
		if re.Reason != c.reason {
			t.Fatalf("%q: reason = %q, want %q", c.line, re.Reason, c.reason)
		}
		if re.Raw != c.line {
			t.Fatalf("%q: raw text not preserved: %q", c.line, re.Raw)
		}
	}
}

// ---- protocol tests ----

func TestWriteAll_ErasePath(t *testing.T) {
	con := &fakeConsole{reply: ubootReply(0x7f000)}
	w := NewWriter(con, 0x22000000, "=> ")

	regions := []Region{
		{File: "u-boot.bin", Offset: 0x0, Size: 0x80000, Erase: true, Timeout: time.Minute},
	}

	if err := w.WriteAll(regions); err != nil {
		t.Fatalf("WriteAll() err=%v", err)
	}

	want := []string{
		"mw 22000000 0 1",
		"fatload mmc 0 22000000 u-boot.bin",
		"sf update 22000000 0 80000",
	}
	if len(con.sends) != len(want) {
		t.Fatalf("sends = %v", con.sends)
	}
	for i := range want {
		if con.sends[i] != want[i] {
			t.Fatalf("send %d = %q, want %q", i, con.sends[i], want[i])
		}
	}
}

func TestWriteAll_RawWritePath(t *testing.T) {
	con := &fakeConsole{reply: ubootReply(0x10000)}
	w := NewWriter(con, 0x22000000, "=> ")

	regions := []Region{
		{File: "env.bin", Offset: 0x80000, Size: 0x10000, Erase: false, Timeout: 30 * time.Second},
	}

	if err := w.WriteAll(regions); err != nil {
		t.Fatalf("WriteAll() err=%v", err)
	}
	if got := con.sends[2]; got != "sf write 22000000 80000 10000" {
		t.Fatalf("write command = %q", got)
	}
}

func TestWriteAll_ListedOrder(t *testing.T) {
	con := &fakeConsole{reply: ubootReply(0x8000)}
	w := NewWriter(con, 0x22000000, "=> ")

	regions := []Region{
		{File: "b.bin", Offset: 0x100000, Size: 0x10000, Erase: true, Timeout: time.Minute},
		{File: "a.bin", Offset: 0x000000, Size: 0x10000, Erase: true, Timeout: time.Minute},
	}

	if err := w.WriteAll(regions); err != nil {
		t.Fatalf("WriteAll() err=%v", err)
	}

	// Listed order, not offset order.
	var loads []string
	for _, s := range con.sends {
		if strings.HasPrefix(s, "fatload ") {
			loads = append(loads, s)
		}
	}
	if len(loads) != 2 || !strings.HasSuffix(loads[0], "b.bin") || !strings.HasSuffix(loads[1], "a.bin") {
		t.Fatalf("loads = %v", loads)
	}
}

func TestWriteAll_ErasePathIdempotent(t *testing.T) {
	region := Region{File: "u-boot.bin", Offset: 0x0, Size: 0x80000, Erase: true, Timeout: time.Minute}

	// Second pass: the medium already holds the image, so everything is
	// skipped. The confirmation shape is the same and the run succeeds.
	passes := []string{
		"524288 bytes written, 0 bytes skipped\n=> ",
		"0 bytes written, 524288 bytes skipped\n=> ",
	}

	for _, confirm := range passes {
		con := &fakeConsole{reply: func(line string) string {
			switch {
			case strings.HasPrefix(line, "mw "):
				return "=> "
			case strings.HasPrefix(line, "fatload "):
				return "524288 bytes read\n=> "
			case strings.HasPrefix(line, "sf update "):
				return confirm
			}
			return ""
		}}
		w := NewWriter(con, 0x22000000, "=> ")
		if err := w.WriteAll([]Region{region}); err != nil {
			t.Fatalf("WriteAll() err=%v (confirm=%q)", err, confirm)
		}
	}
}

func TestWriteRegion_ImageLargerThanRegion(t *testing.T) {
	con := &fakeConsole{reply: ubootReply(0x90000)} // spills past 0x80000
	w := NewWriter(con, 0x22000000, "=> ")

	err := w.WriteAll([]Region{{File: "u-boot.bin", Size: 0x80000, Erase: true, Timeout: time.Minute}})
	var re *ReplyError
	if !errors.As(err, &re) || re.Reason != ReasonImageTooLarge {
		t.Fatalf("expected image-too-large fault, got %v", err)
	}

	// The write command must never have been issued.
	for _, s := range con.sends {
		if strings.HasPrefix(s, "sf ") {
			t.Fatalf("flash write issued after oversized load: %v", con.sends)
		}
	}
}

func TestWriteRegion_MalformedByteCountSurfacesRawLine(t *testing.T) {
	// The firmware prints a report line that mentions "bytes read" but
	// does not have the exact shape. The fault must carry the whole raw
	// line, not time out and not a clipped token run.
	raw := "** 1234567 bytes read (with errors) **"
	con := &fakeConsole{reply: func(line string) string {
		switch {
		case strings.HasPrefix(line, "mw "):
			return "=> "
		case strings.HasPrefix(line, "fatload "):
			return raw + "\n=> "
		}
		return ""
	}}
	w := NewWriter(con, 0x22000000, "=> ")

	err := w.WriteAll([]Region{{File: "u-boot.bin", Offset: 0, Size: 0x80000, Erase: true, Timeout: time.Minute}})
	var re *ReplyError
	if !errors.As(err, &re) || re.Reason != ReasonUnexpectedReply {
		t.Fatalf("expected unexpected-reply fault, got %v", err)
	}
	if re.Raw != raw {
		t.Fatalf("raw line not preserved: %q", re.Raw)
	}
	for _, s := range con.sends {
		if strings.HasPrefix(s, "sf ") {
			t.Fatalf("flash write issued after malformed load report: %v", con.sends)
		}
	}
}

func TestWriteRegion_LoadFailureFaultsInsteadOfTimeout(t *testing.T) {
	// No byte-count report at all: the load failed and the prompt came
	// straight back. That is a protocol fault, not a timeout.
	con := &fakeConsole{reply: func(line string) string {
		switch {
		case strings.HasPrefix(line, "mw "):
			return "=> "
		case strings.HasPrefix(line, "fatload "):
			return "** Unable to read file u-boot.bin **\n=> "
		}
		return ""
	}}
	w := NewWriter(con, 0x22000000, "=> ")

	err := w.WriteAll([]Region{{File: "u-boot.bin", Offset: 0, Size: 0x80000, Erase: true, Timeout: time.Minute}})
	var re *ReplyError
	if !errors.As(err, &re) || re.Reason != ReasonUnexpectedReply {
		t.Fatalf("expected unexpected-reply fault, got %v", err)
	}
	if errors.Is(err, console.ErrTimeout) {
		t.Fatalf("load failure reported as timeout: %v", err)
	}
	for _, s := range con.sends {
		if strings.HasPrefix(s, "sf ") {
			t.Fatalf("flash write issued after failed load: %v", con.sends)
		}
	}
}

func TestWriteRegion_UpdateTimeoutAborts(t *testing.T) {
	con := &fakeConsole{reply: func(line string) string {
		switch {
		case strings.HasPrefix(line, "mw "):
			return "=> "
		case strings.HasPrefix(line, "fatload "):
			return "1234567 bytes read\n=> "
		}
		return "" // sf update never confirms
	}}
	w := NewWriter(con, 0x22000000, "=> ")

	err := w.WriteAll([]Region{
		{File: "rootfs.img", Offset: 0x100000, Size: 0x600000, Erase: true, Timeout: time.Minute},
		{File: "env.bin", Offset: 0x700000, Size: 0x10000, Erase: true, Timeout: time.Minute},
	})
	if !errors.Is(err, console.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The whole run aborts: the second region is never started.
	for _, s := range con.sends {
		if strings.Contains(s, "env.bin") {
			t.Fatalf("second region started after timeout: %v", con.sends)
		}
	}
}

func TestWriteRegion_RecordsFilesizeAndProceeds(t *testing.T) {
	// Console emits "1234567 bytes read" after fatload; the protocol
	// must carry that size forward into the write step without error.
	con := &fakeConsole{reply: ubootReply(1234567)}
	w := NewWriter(con, 0x22000000, "=> ")

	err := w.WriteAll([]Region{
		{File: "rootfs.img", Offset: 0x100000, Size: 0x600000, Erase: true, Timeout: time.Minute},
	})
	if err != nil {
		t.Fatalf("WriteAll() err=%v", err)
	}
	if got := con.sends[len(con.sends)-1]; got != "sf update 22000000 100000 600000" {
		t.Fatalf("write step = %q", got)
	}
}

func TestProbe(t *testing.T) {
	con := &fakeConsole{reply: ubootReply(0)}
	w := NewWriter(con, 0x22000000, "=> ")

	part, err := w.Probe()
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}
	if part != "mx25l6405d" {
		t.Fatalf("part = %q", part)
	}
}
