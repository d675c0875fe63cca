package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPrompterSource(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("\n  map.png  \n"), &out)

	got, err := p.source()
	if err != nil {
		t.Fatal(err)
	}
	if got != "map.png" {
		t.Errorf("got %q, want %q", got, "map.png")
	}
	if n := strings.Count(out.String(), "Image: "); n != 2 {
		t.Errorf("asked %d times, want 2", n)
	}
}

func TestPrompterMaxZoom(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid", "4\n", 4, false},
		{"zero", "0\n", 0, false},
		{"retry after text", "many\n3\n", 3, false},
		{"retry after out of range", "-1\n8\n2\n", 2, false},
		{"no trailing newline", "6", 6, false},
		{"end of input", "abc\n", 0, true},
		{"empty input", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := newPrompter(strings.NewReader(tt.input), &out).maxZoom()
			if (err != nil) != tt.wantErr {
				t.Fatalf("maxZoom() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errNoInput) {
				t.Errorf("got %v, want errNoInput", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrompterExtension(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty selects default", "\n", "jpg"},
		{"png", "png\n", "png"},
		{"dot and case", ".TIFF\n", "tiff"},
		{"webp", "webp\n", "webp"},
		{"retry after heic", "heic\ngif\n", "gif"},
		{"retry after unknown", "exr\nbmp\n", "bmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := newPrompter(strings.NewReader(tt.input), &out).extension()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
