package parser

import "testing"

func TestDispatcherRoutesByExtension(t *testing.T) {
	d := NewDispatcher(nil, nil)

	tests := []struct {
		name        string
		rawURL      string
		contentType string
	}{
		{"pdf by extension", "https://example.com/doc.pdf", ""},
		{"pdf by content type", "https://example.com/doc", "application/pdf"},
		{"docx by extension", "https://example.com/report.docx", ""},
		{"xlsx by extension", "https://example.com/sheet.xlsx?download=1", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Parse will fail on garbage bytes for every non-HTML format;
			// we assert it didn't fall through to the HTML path, which
			// would instead fail with errContentTooShort.
			_, err := d.Parse(nil, tc.rawURL, tc.contentType, []byte("not a real document"))
			if err == nil {
				t.Fatalf("expected parse of garbage bytes to fail")
			}

			if err == errContentTooShort {
				t.Fatalf("expected a non-HTML parser, got the HTML path's %v", err)
			}
		})
	}
}

func TestDispatcherAudioDisabledByDefault(t *testing.T) {
	d := NewDispatcher(nil, nil)

	_, err := d.Parse(nil, "https://example.com/clip.wav", "", []byte("RIFF"))
	if err != errAudioTranscriptionDisabled {
		t.Fatalf("expected errAudioTranscriptionDisabled, got %v", err)
	}
}

func TestHasSuffixIgnoresQueryString(t *testing.T) {
	if !hasSuffix("https://example.com/a/b.pdf?x=1", ".pdf") {
		t.Fatalf("expected .pdf suffix match ignoring query string")
	}

	if hasSuffix("https://example.com/a/b.pdf.html", ".pdf") {
		t.Fatalf("did not expect .pdf suffix match for .pdf.html")
	}
}
