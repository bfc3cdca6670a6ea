package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PolarWolf314/aclsync/internal/configs"
)

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, configs.StateDirName), 0755); err != nil {
		t.Fatalf("Failed to create state dir: %v", err)
	}

	original := configs.ProjectAclsyncSettings
	configs.ProjectAclsyncSettings = configs.NewProjectSettings(root)
	t.Cleanup(func() {
		configs.ProjectAclsyncSettings = original
		SetEnabled(true)
	})
	return configs.ProjectAclsyncSettings.AuditLogPath
}

func TestLog_AppendsEntries(t *testing.T) {
	path := setupProject(t)

	Log(Entry{ActorID: "a1", Operation: "share", BatchID: "b1", Resources: []string{"r1"}, Created: 2})
	Log(Entry{ActorID: "a1", Operation: "validate", Checked: 1})

	entries, err := ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != "share" || entries[0].Created != 2 || entries[0].BatchID != "b1" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Errorf("expected one line per entry, got %q", data)
	}
}

func TestLog_TimestampFormat(t *testing.T) {
	setupProject(t)

	Log(Entry{ActorID: "a1", Operation: "sweep"})

	entries, err := ReadEntries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadEntries = %v, %v", entries, err)
	}
	if _, err := time.Parse(TimestampFormat, entries[0].Timestamp); err != nil {
		t.Errorf("timestamp %q does not match format: %v", entries[0].Timestamp, err)
	}
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	path := setupProject(t)

	Log(Entry{ActorID: "a1", Operation: "validate"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, field := range []string{"batch_id", "resources", "mismatches", "error", "secrets_created"} {
		if _, ok := raw[field]; ok {
			t.Errorf("field %q should be omitted when empty", field)
		}
	}
}

func TestLog_RecordsMismatches(t *testing.T) {
	setupProject(t)

	Log(Entry{ActorID: "a1", Operation: "sweep", Mismatches: []Mismatch{
		{ResourceID: "r1", Missing: []string{"u2"}, Extra: []string{"u3"}},
	}})

	entries, _ := ReadEntries()
	if len(entries) != 1 || len(entries[0].Mismatches) != 1 {
		t.Fatalf("expected one mismatch entry, got %+v", entries)
	}
	m := entries[0].Mismatches[0]
	if m.ResourceID != "r1" || m.Missing[0] != "u2" || m.Extra[0] != "u3" {
		t.Errorf("unexpected mismatch %+v", m)
	}
}

func TestLog_Disabled(t *testing.T) {
	path := setupProject(t)

	SetEnabled(false)
	Log(Entry{ActorID: "a1", Operation: "share"})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no audit log while disabled, stat err = %v", err)
	}
}

func TestLog_NoProjectPath(t *testing.T) {
	original := configs.ProjectAclsyncSettings
	configs.ProjectAclsyncSettings = &configs.ProjectSettings{}
	defer func() { configs.ProjectAclsyncSettings = original }()

	Log(Entry{ActorID: "a1", Operation: "share"})

	if LogPath() != "" {
		t.Errorf("expected empty log path, got %q", LogPath())
	}
}

func TestParseEntries_SkipsMalformedLines(t *testing.T) {
	data := []byte(`{"ts":"2024-01-15T10:30:00.000000Z","actor":"a1","op":"share"}
not json
{"ts":"2024-01-15T10:31:00.000000Z","actor":"a1","op":"rotate","target_users":["u1"]}
`)
	entries, err := ParseEntries(data)
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].TargetUsers[0] != "u1" {
		t.Errorf("unexpected target users %v", entries[1].TargetUsers)
	}

	if entries, _ := ParseEntries(nil); len(entries) != 0 {
		t.Errorf("expected no entries for empty data, got %d", len(entries))
	}
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{Timestamp: "2024-01-15T10:30:00.000000Z", Operation: "share"},
		{Timestamp: "2024-01-16T10:30:00.000000Z", Operation: "share"},
		{Timestamp: "2024-01-16T11:30:00.000000Z", Operation: "sweep"},
		{Timestamp: "garbage", Operation: "share"},
	}

	if got := Filter(entries, "share", time.Time{}); len(got) != 3 {
		t.Errorf("expected 3 share entries, got %d", len(got))
	}

	since := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if got := Filter(entries, "", since); len(got) != 2 {
		t.Errorf("expected 2 entries since %v, got %d", since, len(got))
	}
	if got := Filter(entries, "share", since); len(got) != 1 {
		t.Errorf("expected 1 share entry since %v, got %d", since, len(got))
	}
}
