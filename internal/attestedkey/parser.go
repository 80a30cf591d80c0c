// Package attestedkey tokenizes the EC2 Instance Connect attested-key wire
// format: blank-line-separated records of metadata comment lines, a single
// OpenSSH key line, and trailing base64 signature lines. Grounded on
// other_examples/commiterate-amazon-ec2-ssh-utils__implementation.go's
// scanner loop.
package attestedkey

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
)

const (
	metaTimestamp = "#Timestamp="
	metaInstance  = "#Instance="
	metaCaller    = "#Caller="
	metaRequest   = "#Request="
)

// Record is one attested-key entry: the metadata and key lines that were
// signed, the decoded signature, and the interpreted metadata fields.
// Fields absent from the record are left at their zero value; acceptance
// checking (internal/authorizer) is what decides whether that absence is
// fatal.
type Record struct {
	// SignedData is the verbatim, newline-terminated concatenation of
	// every metadata line and the key line, in on-wire order — the exact
	// buffer spec.md §4.4 and invariant 4 require signatures to cover.
	SignedData []byte

	HasTimestamp bool
	Timestamp    int64
	InstanceID   string
	HasInstance  bool
	Caller       string
	RequestID    string

	// ExtraMetadata preserves unrecognized "#Key=Value" lines verbatim;
	// per spec.md §9 they are part of the signed bytes but are not
	// otherwise interpreted.
	ExtraMetadata []string

	KeyLine string

	// Signature is the base64-decoded signature bytes. SignatureErr is
	// set instead when the base64 text failed to decode; Signature is
	// nil in that case.
	Signature    []byte
	SignatureErr error
}

// Parse tokenizes data into records. Blocks that never reach a key line
// (garbage before the next blank line or EOF) are silently discarded, per
// spec.md §4.4.
func Parse(data []byte) []Record {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var records []Record
	var cur *Record
	var sigLines []string
	var discarding bool

	flush := func() {
		if cur == nil {
			return
		}
		if cur.KeyLine != "" {
			cur.Signature, cur.SignatureErr = decodeSignature(sigLines)
			records = append(records, *cur)
		}
		cur = nil
		sigLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			flush()
			discarding = false
			continue
		}

		if discarding {
			continue
		}

		if cur == nil {
			cur = &Record{}
		}

		switch {
		case cur.KeyLine == "" && strings.HasPrefix(line, "#"):
			cur.SignedData = append(cur.SignedData, []byte(line+"\n")...)
			applyMetadataLine(cur, line)
		case cur.KeyLine == "" && strings.HasPrefix(line, "ssh"):
			cur.SignedData = append(cur.SignedData, []byte(line+"\n")...)
			cur.KeyLine = line
		case cur.KeyLine != "":
			sigLines = append(sigLines, line)
		default:
			// Garbage before any key line: discard the whole block.
			cur = nil
			sigLines = nil
			discarding = true
		}
	}
	flush()

	return records
}

// ParseReader is a convenience wrapper over Parse for callers holding an
// io.Reader (e.g. a metadata response body) rather than a byte slice.
func ParseReader(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

func applyMetadataLine(r *Record, line string) {
	switch {
	case strings.HasPrefix(line, metaTimestamp):
		v := strings.TrimPrefix(line, metaTimestamp)
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.Timestamp = ts
			r.HasTimestamp = true
		}
	case strings.HasPrefix(line, metaInstance):
		r.InstanceID = strings.TrimPrefix(line, metaInstance)
		r.HasInstance = true
	case strings.HasPrefix(line, metaCaller):
		r.Caller = strings.TrimPrefix(line, metaCaller)
	case strings.HasPrefix(line, metaRequest):
		r.RequestID = strings.TrimPrefix(line, metaRequest)
	default:
		r.ExtraMetadata = append(r.ExtraMetadata, line)
	}
}

func decodeSignature(lines []string) ([]byte, error) {
	joined := strings.Join(lines, "")
	return base64.StdEncoding.DecodeString(joined)
}
