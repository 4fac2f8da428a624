package knowledge

import "testing"

func TestChunkText(t *testing.T) {
	text := make([]byte, 2500)
	for i := range text {
		text[i] = 'a'
	}
	chunks := chunkText(string(text), 1000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 1000 {
		t.Fatalf("expected first chunk of 1000, got %d", len(chunks[0]))
	}
	// Overlap: second chunk starts 800 bytes in.
	if len(chunks[2]) != 2500-1600 {
		t.Fatalf("unexpected tail chunk length %d", len(chunks[2]))
	}
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := chunkText("hello", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
	if chunkText("", 1000, 200) != nil {
		t.Fatal("expected nil for empty input")
	}
}
