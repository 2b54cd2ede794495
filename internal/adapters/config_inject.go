package adapters

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/ini.v1"

	"packstash/internal/types"
)

const managedBlockBegin = "# >>> packstash managed block >>>"
const managedBlockEnd = "# <<< packstash managed block <<<"

// ConfigInjectorAdapter applies the emitter's file edits to the project.
// Edits only redirect package sources to the offline cache; they never
// touch dependency-semantics-affecting content.
//
// Application is idempotent two ways: ini-format edits merge keys through
// the ini parser (setting a key twice is a no-op), and everything else is
// written inside a marker-delimited block that gets replaced, not
// appended, on re-application.
type ConfigInjectorAdapter struct{}

func NewConfigInjectorAdapter() ConfigInjectorAdapter {
	return ConfigInjectorAdapter{}
}

func (a ConfigInjectorAdapter) Apply(edits []types.FileEdit) error {
	for _, edit := range edits {
		if err := applyEdit(edit); err != nil {
			return err
		}
	}
	return nil
}

func applyEdit(edit types.FileEdit) error {
	if err := os.MkdirAll(filepath.Dir(edit.Path), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create config directory").
			WithCause(err)
	}
	if edit.Format == "ini" {
		return applyINIEdit(edit)
	}
	return applyBlockEdit(edit)
}

func applyINIEdit(edit types.FileEdit) error {
	loadOpts := ini.LoadOptions{Loose: true, Insensitive: false}
	existing, err := ini.LoadSources(loadOpts, edit.Path)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse config file " + edit.Path).
			WithCause(err)
	}
	desired, err := ini.LoadSources(loadOpts, []byte(edit.Content))
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("emitter produced unparsable ini content").
			WithCause(err)
	}
	for _, section := range desired.Sections() {
		target := existing.Section(section.Name())
		for _, key := range section.Keys() {
			target.Key(key.Name()).SetValue(key.Value())
		}
	}
	if err := existing.SaveTo(edit.Path); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write config file " + edit.Path).
			WithCause(err)
	}
	return nil
}

func applyBlockEdit(edit types.FileEdit) error {
	var current string
	if data, err := os.ReadFile(edit.Path); err == nil {
		current = string(data)
	}
	block := managedBlockBegin + "\n" + strings.TrimRight(edit.Content, "\n") + "\n" + managedBlockEnd + "\n"

	begin := strings.Index(current, managedBlockBegin)
	end := strings.Index(current, managedBlockEnd)
	var next string
	switch {
	case begin >= 0 && end > begin:
		tail := strings.TrimPrefix(current[end+len(managedBlockEnd):], "\n")
		next = current[:begin] + block + tail
	case current == "":
		next = block
	default:
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		next = current + block
	}
	if err := os.WriteFile(edit.Path, []byte(next), 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write config file " + edit.Path).
			WithCause(err)
	}
	return nil
}
