package cli_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/elicit/pkg/cli"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/gt"
)

func readExport(t *testing.T, path string) []memory.ExportEntry {
	t.Helper()
	f, err := os.Open(path)
	gt.NoError(t, err)
	defer f.Close()

	var entries []memory.ExportEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e memory.ExportEntry
		gt.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	gt.NoError(t, scanner.Err())
	return entries
}

func TestMemoryExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := func(name string) []string {
		return []string{
			"--db", filepath.Join(dir, name+".db"),
			"--vector-path", filepath.Join(dir, name+"-vectors.json"),
			"--dimensions", "128",
			"--log-level", "error",
		}
	}
	run := func(args ...string) *cli.Error {
		return cli.Run(ctx, append([]string{"elicit"}, args...))
	}

	gt.V(t, run(append([]string{"memory", "add", "--project-id", "1", "--source-id", "10", "--kind", "crs",
		"--meta", "priority=2", "--meta", "owner=alice"}, append(store("src"), "Invoices are exported monthly")...)...)).Nil()
	gt.V(t, run(append([]string{"memory", "add", "--project-id", "1", "--source-id", "11"},
		append(store("src"), "Accountants approve refunds")...)...)).Nil()
	gt.V(t, run(append([]string{"memory", "add", "--project-id", "2", "--source-id", "12"},
		append(store("src"), "Another project")...)...)).Nil()

	exported := filepath.Join(dir, "export.jsonl")
	gt.V(t, run(append([]string{"memory", "export", "--project-id", "1", "--output", exported}, store("src")...)...)).Nil()

	entries := readExport(t, exported)
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[0].Text, "Invoices are exported monthly")
	gt.Equal(t, entries[0].Metadata["owner"], any("alice"))
	gt.Equal(t, entries[0].Metadata["priority"], any(float64(2)))

	// import into a fresh store under another project
	gt.V(t, run(append([]string{"memory", "import", "--project-id", "5", "--input", exported}, store("dst")...)...)).Nil()

	reexported := filepath.Join(dir, "reexport.jsonl")
	gt.V(t, run(append([]string{"memory", "export", "--project-id", "5", "--output", reexported}, store("dst")...)...)).Nil()

	got := readExport(t, reexported)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0].ProjectID, int64(5))
	gt.Equal(t, got[0].SourceID, int64(10))
	gt.Equal(t, string(got[0].SourceKind), "crs")
	gt.Equal(t, got[0].Metadata["project_id"], any(float64(5)))
	gt.Equal(t, got[1].Text, "Accountants approve refunds")
}

func TestMemoryAddRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	base := []string{"elicit", "memory", "add",
		"--db", filepath.Join(dir, "m.db"),
		"--vector-path", filepath.Join(dir, "v.json"),
		"--log-level", "error",
		"--project-id", "1", "--source-id", "1"}

	gt.V(t, cli.Run(ctx, append(base, "--kind", "email", "hello"))).NotNil()
	gt.V(t, cli.Run(ctx, append(base, "--meta", "novalue", "hello"))).NotNil()
	gt.V(t, cli.Run(ctx, base)).NotNil()
}

func TestClarifyWritesMemory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := []string{
		"--db", filepath.Join(dir, "m.db"),
		"--vector-path", filepath.Join(dir, "v.json"),
		"--log-level", "error",
	}

	input := filepath.Join(dir, "turn.json")
	gt.NoError(t, os.WriteFile(input, []byte(`{
  "text": "The project name is Ledger. Description: an invoicing tool for small firms. Target users are accountants and their customers. Main features include invoice export and payment tracking. Business goals are to reduce billing errors by 30 percent within 6 months.",
  "conversation_history": []
}`), 0644))

	args := append([]string{"elicit", "clarify", "--input", input, "--project-id", "3", "--message-id", "42", "--persist"}, store...)
	gt.V(t, cli.Run(ctx, args)).Nil()

	exported := filepath.Join(dir, "export.jsonl")
	gt.V(t, cli.Run(ctx, append([]string{"elicit", "memory", "export", "--project-id", "3", "--output", exported}, store...))).Nil()

	entries := readExport(t, exported)
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].SourceID, int64(42))
	gt.Equal(t, entries[0].Metadata["intent"], any("requirement"))
}
