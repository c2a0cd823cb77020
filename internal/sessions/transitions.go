package sessions

import (
	"brandpost-backend/internal/shared/errs"
)

// Op names a session operation guarded by the transition table.
type Op string

const (
	OpAnalyzeBrand       Op = "analyze_brand"
	OpGenerateVariations Op = "generate_variations"
	OpSelectVariation    Op = "select_variation"
	OpSubmitFeedback     Op = "submit_feedback"
	OpAccept             Op = "accept"
	OpGenerateImage      Op = "generate_image"
	OpExport             Op = "export"
)

type guard struct {
	missing string
	holds   func(Session) bool
}

var (
	needProfile   = guard{missing: "a brand profile", holds: func(s Session) bool { return s.Profile != nil }}
	needBatch     = guard{missing: "a variation batch", holds: func(s Session) bool { return s.Batch != nil && len(s.Batch.Variations) > 0 }}
	needSelection = guard{missing: "a selected variation", holds: func(s Session) bool { return s.SelectedID != 0 }}
	needImage     = guard{missing: "an image", holds: func(s Session) bool { return s.Image != nil }}
)

// transitions lists the prerequisites of every operation, checked in order.
var transitions = map[Op][]guard{
	OpAnalyzeBrand:       nil,
	OpGenerateVariations: {needProfile},
	OpSelectVariation:    {needProfile, needBatch},
	OpSubmitFeedback:     {needProfile, needBatch, needSelection},
	OpAccept:             {needSelection},
	OpGenerateImage:      {needSelection},
	OpExport:             {needSelection, needImage},
}

// checkTransition fails with InvalidStateTransition naming the first missing prerequisite.
func checkTransition(op Op, s Session) error {
	guards, ok := transitions[op]
	if !ok {
		return errs.Transition(string(op), "a known operation")
	}
	for _, g := range guards {
		if !g.holds(s) {
			return errs.Transition(string(op), g.missing)
		}
	}
	return nil
}

// The apply helpers below clear everything downstream of the step being replaced.

func applyProfile(s *Session, apply func(*Session)) {
	apply(s)
	s.Intent = ""
	s.Platform = ""
	s.Constraints = nil
	s.Elements = nil
	s.Batch = nil
	clearSelection(s)
}

func applyBatch(s *Session, apply func(*Session)) {
	apply(s)
	clearSelection(s)
}

func applySelection(s *Session, id int) {
	clearSelection(s)
	s.SelectedID = id
}

func clearSelection(s *Session) {
	s.SelectedID = 0
	s.Records = nil
	s.Accepted = false
	s.Image = nil
}
