package state

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownName is returned when a persisted stage or sub-step name does
// not parse.
var ErrUnknownName = errors.New("unknown name")

// Stage is a top-level pipeline stage. The zero value means none.
type Stage int

const (
	StageNone Stage = iota
	StageIngest
	StageEnsembleA
	StageEnsembleB
	StageCombine
)

var stageNames = []string{"", "INPUT-INGEST", "ENSEMBLE-A", "ENSEMBLE-B", "COMBINE"}

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{StageIngest, StageEnsembleA, StageEnsembleB, StageCombine}
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is a real stage.
func (s Stage) Valid() bool {
	return s > StageNone && s <= StageCombine
}

// ParseStage parses a persisted stage name. The empty string is StageNone.
func ParseStage(name string) (Stage, error) {
	name = strings.TrimSpace(name)
	for i, n := range stageNames {
		if strings.EqualFold(n, name) {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("%w: stage %q", ErrUnknownName, name)
}

// SubStep is a unit of work inside an ensemble stage. The zero value means
// nothing has been done yet.
type SubStep int

const (
	SubStepNone SubStep = iota
	SubStepConvert
	SubStepAccumulate
	SubStepLookupPrimary
	SubStepLookupSecondary
	SubStepProbability
)

var subStepNames = []string{"", "CONVERT", "ACCUMULATE", "LOOKUP-GEN-PRIMARY", "LOOKUP-GEN-SECONDARY", "PROBABILITY-COMPUTE"}

// SubSteps returns every sub-step in execution order.
func SubSteps() []SubStep {
	return []SubStep{SubStepConvert, SubStepAccumulate, SubStepLookupPrimary, SubStepLookupSecondary, SubStepProbability}
}

func (s SubStep) String() string {
	if s < 0 || int(s) >= len(subStepNames) {
		return fmt.Sprintf("SubStep(%d)", int(s))
	}
	return subStepNames[s]
}

// Terminal reports whether s is the last sub-step.
func (s SubStep) Terminal() bool {
	return s == SubStepProbability
}

// Next returns the sub-step after s, or SubStepNone after the terminal one.
func (s SubStep) Next() SubStep {
	if s >= SubStepProbability || s < SubStepNone {
		return SubStepNone
	}
	return s + 1
}

// ParseSubStep parses a persisted sub-step name.
func ParseSubStep(name string) (SubStep, error) {
	name = strings.TrimSpace(name)
	for i, n := range subStepNames {
		if strings.EqualFold(n, name) {
			return SubStep(i), nil
		}
	}
	return SubStepNone, fmt.Errorf("%w: sub-step %q", ErrUnknownName, name)
}

// GFSStep is a unit of the deterministic GFS conversion.
type GFSStep int

const (
	GFSStepNone GFSStep = iota
	GFSStepConvertA
	GFSStepConvertB
	GFSStepMerge
)

var gfsStepNames = []string{"", "CONVERT-A", "CONVERT-B", "MERGE"}

func (s GFSStep) String() string {
	if s < 0 || int(s) >= len(gfsStepNames) {
		return fmt.Sprintf("GFSStep(%d)", int(s))
	}
	return gfsStepNames[s]
}

// ParseGFSStep parses a persisted GFS step name.
func ParseGFSStep(name string) (GFSStep, error) {
	name = strings.TrimSpace(name)
	for i, n := range gfsStepNames {
		if strings.EqualFold(n, name) {
			return GFSStep(i), nil
		}
	}
	return GFSStepNone, fmt.Errorf("%w: gfs step %q", ErrUnknownName, name)
}

// Ensemble identifies one of the two ensemble model streams.
type Ensemble int

const (
	// EnsembleA runs at 00Z and 12Z only.
	EnsembleA Ensemble = iota
	// EnsembleB runs every six hours.
	EnsembleB
)

// Ensembles lists both streams.
var Ensembles = []Ensemble{EnsembleA, EnsembleB}

// Name is the model name used in ledger keys and command instances.
func (e Ensemble) Name() string {
	if e == EnsembleB {
		return "GEFS"
	}
	return "CMCE"
}

func (e Ensemble) String() string {
	if e == EnsembleB {
		return "ENSEMBLE-B"
	}
	return "ENSEMBLE-A"
}

// Stage returns the pipeline stage that runs this ensemble.
func (e Ensemble) Stage() Stage {
	if e == EnsembleB {
		return StageEnsembleB
	}
	return StageEnsembleA
}

// RunsAt reports whether the ensemble produces a cycle at the given hour.
func (e Ensemble) RunsAt(hour int) bool {
	if e == EnsembleB {
		return hour%6 == 0
	}
	return hour == 0 || hour == 12
}

// Member identifies a deterministic GFS input member.
type Member int

const (
	MemberA Member = iota
	MemberB
)

func (m Member) String() string {
	if m == MemberB {
		return "B"
	}
	return "A"
}
