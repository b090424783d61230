package documents

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linder3hs/livegate/internal/config"
)

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestStore() *Store {
	return NewStore(config.Default().Documents)
}

const faqContent = `Para cambiar tu plan entra en Configuración y elige Plan.

Los reembolsos se procesan en un plazo de 5 días hábiles.

El horario de atención es de lunes a viernes, de 9 a 18 horas.`

func TestLoadAndQuery(t *testing.T) {
	s := newTestStore()
	path := writeDoc(t, "faq.md", faqContent)

	if err := s.Load(path, "faq"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := s.Query("reembolsos plazo", "faq")
	if !strings.Contains(got, "5 días hábiles") {
		t.Errorf("Query = %q, want the refund paragraph", got)
	}
	if strings.Contains(got, "horario") {
		t.Errorf("Query = %q, unrelated paragraph leaked in", got)
	}

	if got := s.Query("kubernetes", "faq"); got != "" {
		t.Errorf("Query without matches = %q, want empty", got)
	}
	if got := s.Query("reembolsos", "no-such-doc"); got != "" {
		t.Errorf("Query on unknown doc = %q, want empty", got)
	}
}

func TestQueryAllDocumentsPrefixesNames(t *testing.T) {
	s := newTestStore()
	s.Load(writeDoc(t, "a.txt", "El plan premium cuesta 20 euros."), "precios")
	s.Load(writeDoc(t, "b.txt", "El plan premium incluye soporte prioritario."), "beneficios")

	got := s.Query("plan premium", "")
	if !strings.Contains(got, "De beneficios:") || !strings.Contains(got, "De precios:") {
		t.Errorf("Query all = %q, want per-document prefixes", got)
	}
	// Sorted by name: beneficios before precios.
	if strings.Index(got, "De beneficios:") > strings.Index(got, "De precios:") {
		t.Errorf("Query all = %q, want documents in name order", got)
	}
}

func TestLoadRejectsUnsupportedFormat(t *testing.T) {
	s := newTestStore()
	path := writeDoc(t, "doc.pdf", "binario")
	if err := s.Load(path, "doc"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore()
	if err := s.Load(filepath.Join(t.TempDir(), "nope.txt"), "doc"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadReplacesSameName(t *testing.T) {
	s := newTestStore()
	s.Load(writeDoc(t, "v1.txt", "contenido viejo"), "doc")
	s.Load(writeDoc(t, "v2.txt", "contenido nuevo"), "doc")

	if got := s.Query("viejo", "doc"); got != "" {
		t.Errorf("old content still queryable: %q", got)
	}
	if got := s.Query("nuevo", "doc"); got == "" {
		t.Error("new content not queryable")
	}
	if len(s.List()) != 1 {
		t.Errorf("List = %d documents, want 1", len(s.List()))
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore()
	s.Load(writeDoc(t, "faq.txt", faqContent), "faq")

	if !s.Remove("faq") {
		t.Error("Remove returned false for a loaded document")
	}
	if s.Remove("faq") {
		t.Error("Remove returned true for an absent document")
	}
	if len(s.List()) != 0 {
		t.Errorf("List = %d documents after remove", len(s.List()))
	}
}

func TestSplitChunksPacksParagraphs(t *testing.T) {
	content := strings.Join([]string{
		strings.Repeat("a", 400),
		strings.Repeat("b", 400),
		strings.Repeat("c", 400),
	}, "\n\n")

	chunks := splitChunks(content, 1000)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 (two paragraphs packed, third alone)", len(chunks))
	}
	if !strings.Contains(chunks[0], "\n\n") {
		t.Error("first chunk should contain two packed paragraphs")
	}
}

func TestSplitChunksOversizedParagraph(t *testing.T) {
	big := strings.Repeat("x", 1500)
	chunks := splitChunks(big, 1000)
	if len(chunks) != 1 || chunks[0] != big {
		t.Errorf("oversized paragraph must stay whole, got %d chunks", len(chunks))
	}
}

func TestTopChunksRanking(t *testing.T) {
	content := strings.Join([]string{
		"El plan básico no incluye soporte.",
		"El plan premium incluye soporte prioritario y el plan premium permite cambios.",
		"El horario de atención es de 9 a 18.",
	}, "\n\n")
	// Tiny chunk size so each paragraph is its own chunk.
	cfg := config.Default().Documents
	cfg.MaxChunkSize = 40
	s := NewStore(cfg)
	s.Load(writeDoc(t, "faq.txt", content), "faq")

	chunks := s.TopChunks("plan premium", "", 1)
	if len(chunks) != 1 {
		t.Fatalf("TopChunks = %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0], "premium") {
		t.Errorf("top chunk = %q, want the premium paragraph", chunks[0])
	}

	if got := s.TopChunks("kubernetes", "", 3); got != nil {
		t.Errorf("TopChunks without matches = %v, want nil", got)
	}
	if got := s.TopChunks("", "", 3); got != nil {
		t.Errorf("TopChunks with empty query = %v, want nil", got)
	}
}
