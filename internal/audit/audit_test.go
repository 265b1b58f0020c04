package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

func testEntry(hash string) Entry {
	return Entry{
		Source:        model.Source{Kind: model.SourceText},
		ContentHash:   hash,
		RiskScore:     0.5,
		Decision:      model.Warn,
		Reasons:       []string{model.ReasonPolicyOverride},
		PolicyVersion: "deadbeefdeadbeef",
	}
}

func TestRecordAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := log.Record(testEntry(fmt.Sprintf("hash-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	log.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("chain invalid: %+v", res)
	}
	if res.Lines != 5 {
		t.Errorf("lines = %d", res.Lines)
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, _ := Open(path)
	log.Record(testEntry("first"))
	log.Close()

	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	log.Record(testEntry("second"))
	log.Close()

	res := Verify(path)
	if !res.Valid || res.Lines != 2 {
		t.Fatalf("reopened chain broken: %+v", res)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, _ := Open(path)
	log.Record(testEntry("a"))
	log.Record(testEntry("b"))
	log.Close()

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"risk_score":0.5`, `"risk_score":0.1`, 1)
	os.WriteFile(path, []byte(tampered), 0o600)

	res := Verify(path)
	if res.Valid {
		t.Error("tampered log passed verification")
	}
	if res.ErrorLine != 2 {
		t.Errorf("error line = %d", res.ErrorLine)
	}
}

func TestLinesFitSingleWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, _ := Open(path)

	entry := testEntry("big")
	for i := 0; i < 500; i++ {
		entry.Reasons = append(entry.Reasons, fmt.Sprintf("SOME_LONG_REASON_CODE_%04d", i))
	}
	if err := log.Record(entry); err != nil {
		t.Fatal(err)
	}
	log.Close()

	f, _ := os.Open(path)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) >= maxLineBytes {
			t.Errorf("line length %d exceeds cap", len(scanner.Bytes()))
		}
		var got Entry
		if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if !got.ReasonsTruncated {
			t.Error("oversized entry should be marked truncated")
		}
		if got.Decision != model.Warn || got.ContentHash != "big" {
			t.Error("decision fields must survive truncation")
		}
	}
}

func TestConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, _ := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Record(testEntry(fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()
	log.Close()

	res := Verify(path)
	if !res.Valid || res.Lines != 20 {
		t.Fatalf("concurrent chain broken: %+v", res)
	}
}

func TestNoOriginalTextInLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, _ := Open(path)
	entry := testEntry("abc123")
	log.Record(entry)
	log.Close()

	data, _ := os.ReadFile(path)
	var decoded map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatal(err)
	}
	for _, forbidden := range []string{"original", "sanitized_text", "text"} {
		if _, ok := decoded[forbidden]; ok {
			t.Errorf("audit entry carries %q", forbidden)
		}
	}
}

func BenchmarkRecord(b *testing.B) {
	path := filepath.Join(b.TempDir(), "audit.jsonl")
	log, _ := Open(path)
	defer log.Close()
	entry := testEntry("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Record(entry)
	}
}
