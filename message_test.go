package tinysse

import (
	"reflect"
	"testing"
)

var messageTests = []struct {
	msg         Message
	expected    []byte
	description string
}{
	{
		Message{Data: "Hello"},
		[]byte("data: Hello\n\n"),
		"DataFieldOnly",
	},
	{
		Message{Id: "42", Event: "greeting", Data: "Hello"},
		[]byte("id: 42\nevent: greeting\ndata: Hello\n\n"),
		"Id+Event+Data",
	},
	{
		Message{Data: "a\nb"},
		[]byte("data: a\ndata: b\n\n"),
		"MultilineData",
	},
	{
		Message{Comment: []string{"ok", "still here"}, Id: "7"},
		[]byte(": ok\n: still here\nid: 7\n\n"),
		"CommentsThenId",
	},
}

func TestRenderFrame(t *testing.T) {
	for _, tc := range messageTests {
		t.Run(tc.description, func(t *testing.T) {
			observed := RenderFrame(tc.msg)
			if string(observed) != string(tc.expected) {
				t.Fatalf("expected %q, got %q", tc.expected, observed)
			}
		})
	}
}

// TestFrameRoundTrip exercises P3: parsing a rendered frame reconstructs an
// equal Message, modulo comment order (which is preserved here anyway).
func TestFrameRoundTrip(t *testing.T) {
	for _, tc := range messageTests {
		t.Run(tc.description, func(t *testing.T) {
			frame := RenderFrame(tc.msg)
			got := ParseFrame(frame)
			if !reflect.DeepEqual(got, tc.msg) {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestValidateNonEmpty(t *testing.T) {
	if (Message{}).ValidateNonEmpty() {
		t.Fatal("empty message should not validate")
	}
	if !(Message{Data: "x"}).ValidateNonEmpty() {
		t.Fatal("message with data should validate")
	}
}

func TestMessageCloneIndependence(t *testing.T) {
	orig := Message{Comment: []string{"a"}}
	clone := orig.Clone()
	clone.Comment[0] = "mutated"
	if orig.Comment[0] != "a" {
		t.Fatalf("mutating clone leaked into original: %v", orig.Comment)
	}
}

func BenchmarkRenderFrame(b *testing.B) {
	for _, tc := range messageTests {
		b.Run(tc.description, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				RenderFrame(tc.msg)
			}
		})
	}
}
