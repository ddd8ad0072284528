package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"researchshell/internal/testutils"
	"researchshell/pkg/researchtypes"
)

// Format is a debug export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (supported: json, yaml)", s)
	}
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// yamlEntry mirrors TraceEntry with the derived event decoded, so YAML output
// shows structure instead of a byte array.
type yamlEntry struct {
	Kind         researchtypes.TraceKind `yaml:"kind"`
	Timestamp    time.Time               `yaml:"timestamp"`
	RawPayload   string                  `yaml:"rawPayload,omitempty"`
	DerivedEvent any                     `yaml:"derivedEvent,omitempty"`
	Error        string                  `yaml:"error,omitempty"`
}

type yamlExport struct {
	ConversationID string                        `yaml:"conversationId"`
	ExportedAt     time.Time                     `yaml:"exportedAt"`
	Session        researchtypes.SessionSnapshot `yaml:"session"`
	Trace          []yamlEntry                   `yaml:"trace"`
}

// Build assembles the export document for the current trace.
func (r *Recorder) Build(snapshot researchtypes.SessionSnapshot) researchtypes.DebugExport {
	trace := r.Entries()
	if snapshot.Steps == nil {
		snapshot.Steps = []researchtypes.ProgressStep{}
	}
	return researchtypes.DebugExport{
		ConversationID: snapshot.ConversationID,
		ExportedAt:     testutils.GetCurrentTime(r.testMode),
		Session:        snapshot,
		Trace:          trace,
	}
}

// Export encodes the trace together with a session snapshot.
func (r *Recorder) Export(snapshot researchtypes.SessionSnapshot, format Format) ([]byte, error) {
	return Encode(r.Build(snapshot), format)
}

// Encode serializes an export document.
func Encode(doc researchtypes.DebugExport, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode debug export: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		out := yamlExport{
			ConversationID: doc.ConversationID,
			ExportedAt:     doc.ExportedAt,
			Session:        doc.Session,
			Trace:          make([]yamlEntry, len(doc.Trace)),
		}
		for i, e := range doc.Trace {
			ye := yamlEntry{
				Kind:       e.Kind,
				Timestamp:  e.Timestamp,
				RawPayload: e.RawPayload,
				Error:      e.Error,
			}
			if len(e.DerivedEvent) > 0 {
				var decoded any
				if err := json.Unmarshal(e.DerivedEvent, &decoded); err != nil {
					ye.DerivedEvent = string(e.DerivedEvent)
				} else {
					ye.DerivedEvent = decoded
				}
			}
			out.Trace[i] = ye
		}
		data, err := yaml.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode debug export: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportFileName returns debug_<conversationId>_<UTC timestamp>.<ext>.
func ExportFileName(conversationID string, at time.Time, format Format) string {
	if conversationID == "" {
		conversationID = "none"
	}
	return fmt.Sprintf("debug_%s_%s.%s", conversationID, at.UTC().Format("20060102T150405Z"), format.Extension())
}

// WriteExport writes the export into dir and returns the file path.
func (r *Recorder) WriteExport(dir string, snapshot researchtypes.SessionSnapshot, format Format) (string, error) {
	doc := r.Build(snapshot)
	data, err := Encode(doc, format)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, ExportFileName(doc.ConversationID, doc.ExportedAt, format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write debug export: %w", err)
	}
	return path, nil
}
