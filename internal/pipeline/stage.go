package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is the pipeline's progress index.
type Stage int

const (
	StageIdle Stage = iota
	StageSelected
	StageChecked
	StageEmbedded
	StageStored
	StageRegistered
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSelected:
		return "selected"
	case StageChecked:
		return "checked"
	case StageEmbedded:
		return "embedded"
	case StageStored:
		return "stored"
	case StageRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Step names the external operation that advances the pipeline by one stage.
type Step string

const (
	StepDedup    Step = "dedup"
	StepEmbed    Step = "embed"
	StepUpload   Step = "upload"
	StepRegister Step = "register"
)

// Steps lists every step in execution order.
var Steps = []Step{StepDedup, StepEmbed, StepUpload, StepRegister}

// ParseStep resolves a step name.
func ParseStep(name string) (Step, bool) {
	for _, step := range Steps {
		if string(step) == strings.ToLower(strings.TrimSpace(name)) {
			return step, true
		}
	}
	return "", false
}

// title builds a fresh caser per call; a cases.Caser is not safe for
// concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// Label returns a display label such as "Duplicate Check".
func (s Step) Label() string {
	switch s {
	case StepDedup:
		return title("duplicate check")
	case StepEmbed:
		return title("fingerark embedding")
	case StepUpload:
		return title("storage upload")
	case StepRegister:
		return title("ledger registration")
	default:
		return title(string(s))
	}
}

// Label returns the display label for a stage.
func (s Stage) Label() string {
	return title(s.String())
}

// VariantLabel returns the display label for a state variant name, e.g.
// "already_registered" becomes "Already Registered".
func VariantLabel(variant string) string {
	return title(strings.ReplaceAll(variant, "_", " "))
}
