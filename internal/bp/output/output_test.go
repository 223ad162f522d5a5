package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithQuiet(true))

	p.Printf("Hello %s", "World")
	p.Success("done")
	p.Info("info")
	if buf.Len() != 0 {
		t.Errorf("quiet printer should produce no output, got %q", buf.String())
	}
}

func TestPrinter_JSONModeSuppressesText(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithJSON(true))

	p.Printf("Hello %s", "World")
	p.KeyValue("Status", "DONE")
	if buf.Len() != 0 {
		t.Errorf("JSON mode should suppress text output, got %q", buf.String())
	}
}

func TestPrinter_Messages(t *testing.T) {
	tests := []struct {
		name  string
		print func(p *Printer)
		want  string
		toErr bool
	}{
		{"success", func(p *Printer) { p.Success("Submitted %s", "job-1") }, "Submitted job-1", false},
		{"info", func(p *Printer) { p.Info("Compressed a.jpg") }, "Compressed a.jpg", false},
		{"warn", func(p *Printer) { p.Warn("Failed b.jpg") }, "Failed b.jpg", false},
		{"indent", func(p *Printer) { p.Indent("a.jpg") }, "a.jpg", false},
		{"key value", func(p *Printer) { p.KeyValue("Status", "RUNNING") }, "Status: RUNNING", false},
		{"error", func(p *Printer) { p.Error("Something failed") }, "Something failed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			p := New(WithOutput(&out), WithErrOutput(&errOut), WithNoColor(true))

			tt.print(p)

			got := out.String()
			if tt.toErr {
				got = errOut.String()
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("output = %q, want to contain %q", got, tt.want)
			}
		})
	}
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf))

	data := map[string]string{"jobId": "job-1"}
	if err := p.JSON(data); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var result map[string]string
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if result["jobId"] != "job-1" {
		t.Errorf("JSON output jobId = %q, want 'job-1'", result["jobId"])
	}
}

func TestPrinter_JSONLine(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf))

	_ = p.JSONLine(map[string]int{"seq": 1})
	_ = p.JSONLine(map[string]int{"seq": 2})

	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 2 {
		t.Errorf("got %d lines, want 2: %q", len(lines), buf.String())
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"File", "Size"}, false)
	table.Append("holiday.jpg", "2.1 MiB")
	table.Append("a.jpg", "12 KiB")
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "a.jpg        12 KiB") {
		t.Errorf("row not aligned: %q", lines[2])
	}
}

func TestTable_Quiet(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"File", "Size"}, true)
	table.Append("a.jpg", "1 KiB")
	table.Render()

	if buf.Len() != 0 {
		t.Errorf("Table with quiet should produce no output, got %q", buf.String())
	}
}

func TestProgress_Quiet(t *testing.T) {
	p := NewProgress(0, "Compressing", ProgressWithQuiet(true))
	p.SetTotal(3)
	p.Describe("a.jpg")
	p.Increment()
	p.Finish()
	if p.Duration() < 0 {
		t.Error("Duration should be positive")
	}
}

func TestProgress_Renders(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(2, "Compressing", ProgressWithOutput(&buf))
	p.Increment()
	p.Increment()
	p.Finish()

	if !strings.Contains(buf.String(), "Compressing") {
		t.Errorf("progress output = %q, want description", buf.String())
	}
}

func TestByteProgress(t *testing.T) {
	p := NewByteProgress(10, "Downloading", true)
	n, err := p.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("Write() = %d, %v", n, err)
	}
	p.Finish()
}
