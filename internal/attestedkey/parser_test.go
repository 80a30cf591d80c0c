package attestedkey_test

import (
	"testing"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/attestedkey"
)

const sampleKeyLine = "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABgQC7test key-comment"

func TestParseSingleRecord(t *testing.T) {
	data := "#Timestamp=1999999999\n" +
		"#Instance=i-0123456789abcdef0\n" +
		"#Caller=arn:aws:sts::123456789012:assumed-role/foo/bar\n" +
		"#Request=req-1\n" +
		sampleKeyLine + "\n" +
		"c2lnbmF0dXJlYnl0ZXM=\n" +
		"\n"

	records := attestedkey.Parse([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if !r.HasTimestamp || r.Timestamp != 1999999999 {
		t.Fatalf("unexpected timestamp: %+v", r)
	}
	if !r.HasInstance || r.InstanceID != "i-0123456789abcdef0" {
		t.Fatalf("unexpected instance id: %+v", r)
	}
	if r.Caller != "arn:aws:sts::123456789012:assumed-role/foo/bar" {
		t.Fatalf("unexpected caller: %q", r.Caller)
	}
	if r.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %q", r.RequestID)
	}
	if r.KeyLine != sampleKeyLine {
		t.Fatalf("unexpected key line: %q", r.KeyLine)
	}
	if r.SignatureErr != nil {
		t.Fatalf("unexpected signature decode error: %v", r.SignatureErr)
	}
	if string(r.Signature) != "signaturebytes" {
		t.Fatalf("unexpected decoded signature: %q", r.Signature)
	}

	wantSigned := "#Timestamp=1999999999\n" +
		"#Instance=i-0123456789abcdef0\n" +
		"#Caller=arn:aws:sts::123456789012:assumed-role/foo/bar\n" +
		"#Request=req-1\n" +
		sampleKeyLine + "\n"
	if string(r.SignedData) != wantSigned {
		t.Fatalf("signed data mismatch:\ngot:  %q\nwant: %q", r.SignedData, wantSigned)
	}
}

func TestParseMultipleRecords(t *testing.T) {
	data := "#Instance=i-aaa\n" + sampleKeyLine + "\nc2lnMQ==\n\n" +
		"#Instance=i-bbb\n" + sampleKeyLine + "\nc2lnMg==\n\n"

	records := attestedkey.Parse([]byte(data))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].InstanceID != "i-aaa" || records[1].InstanceID != "i-bbb" {
		t.Fatalf("records out of order or wrong instance ids: %+v", records)
	}
}

func TestParseUnrecognizedMetadataPreserved(t *testing.T) {
	data := "#Instance=i-aaa\n#Region=us-east-1\n" + sampleKeyLine + "\nc2lnMQ==\n\n"

	records := attestedkey.Parse([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(records[0].ExtraMetadata) != 1 || records[0].ExtraMetadata[0] != "#Region=us-east-1" {
		t.Fatalf("unexpected extra metadata: %+v", records[0].ExtraMetadata)
	}
}

func TestParseDiscardsBlockWithoutKeyLine(t *testing.T) {
	data := "#Instance=i-aaa\n#Caller=someone\n\n" +
		"#Instance=i-bbb\n" + sampleKeyLine + "\nc2lnMQ==\n\n"

	records := attestedkey.Parse([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].InstanceID != "i-bbb" {
		t.Fatalf("expected the surviving record to be i-bbb, got %+v", records[0])
	}
}

func TestParseTrailingRecordWithoutBlankLine(t *testing.T) {
	data := "#Instance=i-aaa\n" + sampleKeyLine + "\nc2lnMQ=="

	records := attestedkey.Parse([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected EOF to terminate the final record, got %d records", len(records))
	}
}

func TestParseBadSignatureBase64(t *testing.T) {
	data := "#Instance=i-aaa\n" + sampleKeyLine + "\nnot-valid-base64!!!\n\n"

	records := attestedkey.Parse([]byte(data))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].SignatureErr == nil {
		t.Fatal("expected a signature decode error")
	}
}
