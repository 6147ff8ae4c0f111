package store

import "fmt"

// Record is one persisted document as decoded JSON, before typing.
type Record = map[string]any

// Step upgrades records from schema version From to To. Apply must be pure:
// it returns a new record and leaves its input untouched.
type Step struct {
	From  int
	To    int
	Apply func(Record) Record
}

// Steps is the schema upgrade chain, ordered by From.
var Steps = []Step{
	{From: 0, To: 1, Apply: renameV0Fields},
}

// Upgrade runs every step needed to bring records from version to
// CurrentVersion. Records from a newer, unknown version are rejected.
func Upgrade(records []Record, version int) ([]Record, int, error) {
	if version > CurrentVersion {
		return nil, version, fmt.Errorf("schema version %d is newer than supported %d", version, CurrentVersion)
	}
	for version < CurrentVersion {
		step, ok := stepFrom(version)
		if !ok {
			return nil, version, fmt.Errorf("no upgrade step from schema version %d", version)
		}
		next := make([]Record, 0, len(records))
		for _, rec := range records {
			next = append(next, step.Apply(rec))
		}
		records, version = next, step.To
	}
	return records, version, nil
}

func stepFrom(version int) (Step, bool) {
	for _, s := range Steps {
		if s.From == version {
			return s, true
		}
	}
	return Step{}, false
}

// renameV0Fields maps the unversioned field names onto the current ones.
func renameV0Fields(in Record) Record {
	out := copyRecord(in)
	rename(out, "generatedPRD", "generatedDocument")
	rename(out, "uiDesigns", "designWorkspace")

	ws, ok := out["designWorkspace"].(map[string]any)
	if !ok {
		return out
	}
	ws = copyRecord(ws)
	rename(ws, "generatedJsonPrompt", "generatedPrompt")
	rename(ws, "generatedDesigns", "generatedImages")
	rename(ws, "designGenerationCount", "generationCount")

	if imgs, ok := ws["uploadedImages"].([]any); ok {
		renamed := make([]any, 0, len(imgs))
		for _, img := range imgs {
			m, ok := img.(map[string]any)
			if !ok {
				renamed = append(renamed, img)
				continue
			}
			m = copyRecord(m)
			rename(m, "dataUrl", "encodedContent")
			rename(m, "type", "mimeType")
			renamed = append(renamed, m)
		}
		ws["uploadedImages"] = renamed
	}
	out["designWorkspace"] = ws
	return out
}

// rename moves m[from] to m[to] unless m already has to.
func rename(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}

func copyRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
