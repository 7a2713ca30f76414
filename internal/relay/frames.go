package relay

import (
	"bytes"
	"strings"
)

const doneSentinel = "[DONE]"

var (
	lfTerminator   = []byte("\n\n")
	crlfTerminator = []byte("\r\n\r\n")
)

// SplitFrames is a bufio.SplitFunc that yields one SSE frame per token, without its
// blank-line terminator. Frames may arrive split across any number of reads.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	end, width := -1, 0
	if i := bytes.Index(data, lfTerminator); i >= 0 {
		end, width = i, len(lfTerminator)
	}
	if i := bytes.Index(data, crlfTerminator); i >= 0 && (end < 0 || i < end) {
		end, width = i, len(crlfTerminator)
	}
	if end >= 0 {
		return end + width, data[:end], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// framePayload joins the data lines of one frame with "\n". Comment and field lines
// other than data are ignored; ok is false when the frame carries no data line.
func framePayload(frame []byte) (payload string, ok bool) {
	var lines []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		rest, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		lines = append(lines, strings.TrimPrefix(rest, " "))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}
