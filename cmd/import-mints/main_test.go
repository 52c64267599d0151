package main

import (
	"strings"
	"testing"
)

func TestParseMintList(t *testing.T) {
	input := `# holders snapshot
0xABC,12

0xabc,13
not-a-wallet
0xdef
`
	recs, invalid, err := parseMintList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if invalid != 1 {
		t.Fatalf("invalid=%d want 1", invalid)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%+v", recs)
	}
	if recs[0].WalletAddress != "0xabc" || recs[0].TokenID != "12" {
		t.Fatalf("first record %+v", recs[0])
	}
	if recs[1].WalletAddress != "0xdef" || recs[1].TokenID != "" {
		t.Fatalf("second record %+v", recs[1])
	}
}
