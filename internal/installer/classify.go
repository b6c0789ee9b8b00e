package installer

import "strings"

// Outcome tags an install attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAlreadyExists
	OutcomeBranchNotFound
	OutcomePathNotFound
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyExists:
		return "already-exists"
	case OutcomeBranchNotFound:
		return "branch-not-found"
	case OutcomePathNotFound:
		return "path-not-found"
	default:
		return "failure"
	}
}

// Signature maps a diagnostic phrase to an outcome. Phrases match
// case-insensitively anywhere in stderr.
type Signature struct {
	Phrase  string
	Outcome Outcome
}

func DefaultSignatures() []Signature {
	return []Signature{
		{Phrase: "destination already exists", Outcome: OutcomeAlreadyExists},
		{Phrase: "remote branch", Outcome: OutcomeBranchNotFound},
		{Phrase: "remote ref", Outcome: OutcomeBranchNotFound},
		{Phrase: "couldn't find remote ref", Outcome: OutcomeBranchNotFound},
		{Phrase: "not found in upstream", Outcome: OutcomeBranchNotFound},
		{Phrase: "skill path not found", Outcome: OutcomePathNotFound},
		{Phrase: "skill.md not found", Outcome: OutcomePathNotFound},
	}
}

// Classifier applies signatures in order; the first match wins.
type Classifier struct {
	signatures []Signature
}

// NewClassifier builds a classifier from sigs, or from DefaultSignatures
// when none are given.
func NewClassifier(sigs ...Signature) *Classifier {
	if len(sigs) == 0 {
		sigs = DefaultSignatures()
	}
	out := make([]Signature, 0, len(sigs))
	for _, s := range sigs {
		if p := strings.ToLower(strings.TrimSpace(s.Phrase)); p != "" {
			out = append(out, Signature{Phrase: p, Outcome: s.Outcome})
		}
	}
	return &Classifier{signatures: out}
}

func (c *Classifier) Classify(a Attempt) Outcome {
	if a.ExitCode == 0 {
		return OutcomeSuccess
	}
	return c.ClassifyText(a.Stderr)
}

// ClassifyText tags diagnostic text from a failed attempt.
func (c *Classifier) ClassifyText(text string) Outcome {
	lower := strings.ToLower(text)
	for _, s := range c.signatures {
		if strings.Contains(lower, s.Phrase) {
			return s.Outcome
		}
	}
	return OutcomeFailure
}
