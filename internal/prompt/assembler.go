// Package prompt assembles generation prompts from selectable context
// fragments and serves the static instruction documents they draw on.
package prompt

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fragment identifiers selectable by the client.
const (
	FragmentAppDescription   = "app-description"
	FragmentRawTranscription = "raw-transcription"
	FragmentImageReferences  = "image-references"
	// FragmentPRDPrefix prefixes the id of the document whose generated
	// content should be included, e.g. "prd-transcript_1700000000000_ab12cd".
	FragmentPRDPrefix = "prd-"
)

// Static document filenames.
const (
	AppDescriptionFile = "Description_of_app.md"
	PRDMasterFile      = "GENERATE_PRD.md"
	DesignMasterFile   = "GEN_DESIGN.md"
)

const preamble = "These are context:\n\n"

// Kind selects the trailing master instruction document.
type Kind string

const (
	KindPRD    Kind = "prd"
	KindDesign Kind = "design"
)

// MasterFile returns the instruction document appended for k.
func (k Kind) MasterFile() string {
	if k == KindDesign {
		return DesignMasterFile
	}
	return PRDMasterFile
}

// Fragments is the resolved content available for assembly. Empty fields
// are treated as unavailable.
type Fragments struct {
	AppDescription    string
	Transcript        string
	GeneratedDocument string
	ImageNames        []string
	Master            string
}

// Assemble concatenates the selected fragments in fixed priority order
// (app description, transcript, generated document, image references), each
// wrapped in its delimiter tags, and appends the master document raw. The
// order of selected does not matter. Output depends only on the inputs.
func Assemble(selected []string, f Fragments) string {
	set := make(map[string]bool, len(selected))
	for _, id := range selected {
		set[id] = true
	}

	var sb strings.Builder
	sb.WriteString(preamble)

	if set[FragmentAppDescription] {
		writeSection(&sb, "App-description", f.AppDescription)
	}
	if set[FragmentRawTranscription] {
		writeSection(&sb, "Raw-transcription", f.Transcript)
	}
	if _, ok := SelectedPRD(selected); ok {
		writeSection(&sb, "PRD", f.GeneratedDocument)
	}
	if set[FragmentImageReferences] && len(f.ImageNames) > 0 {
		writeSection(&sb, "Provided-image-references", strings.Join(f.ImageNames, ", "))
	}

	sb.WriteString(f.Master)
	return sb.String()
}

func writeSection(sb *strings.Builder, tag, content string) {
	if content == "" {
		return
	}
	sb.WriteString("<" + tag + ">\n")
	sb.WriteString(content)
	sb.WriteString("\n</" + tag + ">\n\n")
}

// SelectedPRD returns the document id of the first selected "prd-" fragment.
func SelectedPRD(selected []string) (string, bool) {
	for _, id := range selected {
		if docID, ok := strings.CutPrefix(id, FragmentPRDPrefix); ok && docID != "" {
			return docID, true
		}
	}
	return "", false
}

// Source loads a static document by filename.
type Source interface {
	Load(ctx context.Context, name string) (string, error)
}

// Input describes one assembly request against live state.
type Input struct {
	Kind     Kind
	Selected []string
	// Transcript is the text of the focused document.
	Transcript string
	// GeneratedDocument resolves the content behind a "prd-<id>" fragment.
	GeneratedDocument func(docID string) (string, bool)
	ImageNames        []string
}

// Assembler resolves static documents through a Source and assembles prompts.
type Assembler struct {
	src    Source
	logger *zap.Logger
}

// NewAssembler creates an Assembler. A nil logger disables logging.
func NewAssembler(src Source, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{src: src, logger: logger}
}

// Build loads the documents the request needs and assembles the prompt.
// A static document that fails to load is replaced by a fallback sentence;
// Build never fails.
func (a *Assembler) Build(ctx context.Context, in Input) string {
	f := Fragments{Transcript: in.Transcript}
	selected := in.Selected

	wantApp := slices.Contains(selected, FragmentAppDescription)

	if docID, ok := SelectedPRD(selected); ok {
		if in.GeneratedDocument != nil {
			f.GeneratedDocument, _ = in.GeneratedDocument(docID)
		}
		if f.GeneratedDocument == "" {
			a.logger.Debug("selected generated document unavailable", zap.String("doc_id", docID))
		}
	}

	if in.Kind == KindDesign {
		f.ImageNames = in.ImageNames
	}

	master := in.Kind.MasterFile()

	// Fetch failures are folded into fallbacks, so the group never errors.
	var g errgroup.Group
	if wantApp {
		g.Go(func() error {
			f.AppDescription = a.load(ctx, AppDescriptionFile, "Error loading app description from: ")
			return nil
		})
	}
	g.Go(func() error {
		f.Master = a.load(ctx, master, "Error loading master prompt from: ")
		return nil
	})
	_ = g.Wait()

	if in.Transcript == "" && slices.Contains(selected, FragmentRawTranscription) {
		a.logger.Debug("selected transcript is empty, skipping section")
	}

	return Assemble(selected, f)
}

func (a *Assembler) load(ctx context.Context, name, fallbackPrefix string) string {
	content, err := a.src.Load(ctx, name)
	if err != nil {
		a.logger.Warn("loading prompt document", zap.String("file", name), zap.Error(err))
		return fallbackPrefix + name
	}
	return content
}
