package state

import (
	"log/slog"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

// Section is the ledger section holding the machine.
const Section = "proj"

const (
	keyCurrentPartial = "CurrentPartial"
	keyInProgress     = "InProgress"
	keyLastCompleted  = "LastCompleted"
	keyGFSPartial     = "GFSPartial"
	keyGFSLastDone    = "GFSLastDone"
	keyLIRPartial     = "LIRPartial"
	keyLIRLastDone    = "LIRLastDone"
)

func finishedKey(e Ensemble) string    { return e.Name() }
func thresholdedKey(e Ensemble) string { return "THRESH_" + e.Name() }
func partialKey(e Ensemble) string     { return e.Name() + "Partial" }
func lastDoneKey(e Ensemble) string    { return e.Name() + "LastDone" }
func gfsFileKey(m Member) string       { return "GFS" + m.String() + "LastFile" }

// Encode renders the machine as a document.
func (m *Machine) Encode() *ledger.Document {
	doc := ledger.NewDocument()
	sec := doc.Section(Section)
	for _, e := range Ensembles {
		sec.SetList(finishedKey(e), m.finished[e].Sorted())
	}
	for _, e := range Ensembles {
		sec.SetList(thresholdedKey(e), m.thresholded[e].Sorted())
	}
	sec.Set(keyCurrentPartial, string(m.CurrentCycle))
	sec.Set(keyInProgress, m.InProgress.String())
	sec.Set(keyLastCompleted, m.LastCompleted.String())
	for _, e := range Ensembles {
		p := m.progress[e]
		sec.Set(partialKey(e), string(p.Partial))
		sec.Set(lastDoneKey(e), p.LastDone.String())
	}
	sec.Set(keyGFSPartial, string(m.GFS.Partial))
	sec.Set(keyGFSLastDone, m.GFS.LastDone.String())
	sec.Set(gfsFileKey(MemberA), m.GFS.LastFile[MemberA])
	sec.Set(gfsFileKey(MemberB), m.GFS.LastFile[MemberB])
	sec.Set(keyLIRPartial, string(m.LIR.Partial))
	sec.Set(keyLIRLastDone, m.LIR.LastDone)
	return doc
}

// Decode builds a machine from doc. Unparseable values are logged and
// treated as unset.
func Decode(doc *ledger.Document, logger *slog.Logger) *Machine {
	m := New()
	sec, ok := doc.Lookup(Section)
	if !ok {
		return m
	}
	d := decoder{sec: sec, logger: logger}

	for _, e := range Ensembles {
		for _, c := range d.ids(finishedKey(e)) {
			m.finished[e].Add(string(c))
		}
		for _, c := range d.ids(thresholdedKey(e)) {
			m.thresholded[e].Add(string(c))
		}
	}

	m.CurrentCycle = d.id(keyCurrentPartial)
	m.InProgress = d.stage(keyInProgress)
	m.LastCompleted = d.stage(keyLastCompleted)

	for _, e := range Ensembles {
		m.progress[e] = Progress{Partial: d.id(partialKey(e)), LastDone: d.subStep(lastDoneKey(e))}
	}

	m.GFS.Partial = d.id(keyGFSPartial)
	m.GFS.LastDone = d.gfsStep(keyGFSLastDone)
	m.GFS.LastFile[MemberA] = sec.Get(gfsFileKey(MemberA))
	m.GFS.LastFile[MemberB] = sec.Get(gfsFileKey(MemberB))

	m.LIR.Partial = d.id(keyLIRPartial)
	m.LIR.LastDone = sec.Get(keyLIRLastDone)
	return m
}

type decoder struct {
	sec    *ledger.Section
	logger *slog.Logger
}

func (d decoder) id(key string) cycle.ID {
	v := d.sec.Get(key)
	if v == "" {
		return ""
	}
	id, err := cycle.Parse(v)
	if err != nil {
		d.logger.Warn("ignoring malformed state value", "key", key, "value", v, "error", err)
		return ""
	}
	return id
}

func (d decoder) ids(key string) []cycle.ID {
	var out []cycle.ID
	for _, v := range d.sec.List(key) {
		if _, err := cycle.DecodeKey(v, cycle.Hourly); err != nil {
			d.logger.Warn("skipping malformed ledger key", "key", key, "value", v, "error", err)
			continue
		}
		out = append(out, cycle.ID(v))
	}
	return out
}

func (d decoder) stage(key string) Stage {
	s, err := ParseStage(d.sec.Get(key))
	if err != nil {
		d.logger.Warn("ignoring unknown stage", "key", key, "error", err)
	}
	return s
}

func (d decoder) subStep(key string) SubStep {
	s, err := ParseSubStep(d.sec.Get(key))
	if err != nil {
		d.logger.Warn("ignoring unknown sub-step", "key", key, "error", err)
	}
	return s
}

func (d decoder) gfsStep(key string) GFSStep {
	s, err := ParseGFSStep(d.sec.Get(key))
	if err != nil {
		d.logger.Warn("ignoring unknown gfs step", "key", key, "error", err)
	}
	return s
}
