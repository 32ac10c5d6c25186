// Package intent classifies inbound text into the fixed set of intents that
// drive the dialog router. Matching is keyword based over normalized text.
package intent

import (
	"strings"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/textnorm"
)

// Kind is a classified intent.
type Kind string

const (
	None           Kind = "none"
	Greeting       Kind = "greeting" // greeting or menu-open
	Price          Kind = "price"
	Schedule       Kind = "schedule"
	PaymentReceipt Kind = "payment_receipt"
	Selection      Kind = "selection" // menu topic chosen by row id, digit, title or alias
	Handoff        Kind = "handoff"
	MoreInfo       Kind = "more_info"
	Exit           Kind = "exit"
	Wake           Kind = "wake" // only produced while the conversation is silenced
)

// Input is what the classifier looks at.
type Input struct {
	Text        string
	SelectionID string // structured list/button row id, if any
	Silenced    bool
}

// Result is the classification outcome.
type Result struct {
	Kind       Kind
	Topic      *catalog.Topic // set for Selection
	Normalized string
}

type phrase []string

// Classifier matches normalized text against the catalog keyword lists.
type Classifier struct {
	cat *catalog.Catalog

	greeting []phrase
	price    []phrase
	schedule []phrase
	payment  []phrase
	handoff  []phrase
	moreInfo map[string]bool
	exit     map[string]bool
	wake     map[string]bool

	// normalized id, title and aliases -> topic id
	topicKeys map[string]string
}

// NewClassifier builds a classifier over the catalog keyword lists and topics.
func NewClassifier(cat *catalog.Catalog) *Classifier {
	kw := cat.Keywords
	c := &Classifier{
		cat:       cat,
		greeting:  phrases(kw.Greeting),
		price:     phrases(kw.Price),
		schedule:  phrases(kw.Schedule),
		payment:   phrases(kw.PaymentReceipt),
		handoff:   phrases(kw.Handoff),
		moreInfo:  exact(kw.MoreInfo),
		exit:      exact(kw.Exit),
		wake:      exact(kw.Wake),
		topicKeys: make(map[string]string),
	}
	for _, t := range cat.Topics {
		for _, key := range append([]string{t.ID, t.Title}, t.Aliases...) {
			if n := textnorm.Normalize(key); n != "" {
				c.topicKeys[n] = t.ID
			}
		}
	}
	return c
}

// Classify evaluates the input in a fixed priority order; the first match wins.
//
// Order: structured selection, price, scheduling, payment receipt, typed
// selection, handoff, more info, exit, greeting, none. While silenced only
// the wake keywords are recognized.
func (c *Classifier) Classify(in Input) Result {
	norm := textnorm.Normalize(in.Text)
	res := Result{Kind: None, Normalized: norm}

	if in.Silenced {
		if c.wake[norm] {
			res.Kind = Wake
		}
		return res
	}

	if in.SelectionID != "" {
		if t := c.topic(in.SelectionID); t != nil {
			res.Kind, res.Topic = Selection, t
			return res
		}
		// Unknown row ids are scanned like typed text.
		if norm == "" {
			norm = textnorm.Normalize(in.SelectionID)
			res.Normalized = norm
		}
	}
	if norm == "" {
		return res
	}

	tokens := strings.Fields(norm)
	switch {
	case matchAny(tokens, c.price):
		res.Kind = Price
	case matchAny(tokens, c.schedule):
		res.Kind = Schedule
	case matchAny(tokens, c.payment):
		res.Kind = PaymentReceipt
	case c.topic(norm) != nil:
		res.Kind, res.Topic = Selection, c.topic(norm)
	case matchAny(tokens, c.handoff):
		res.Kind = Handoff
	case c.moreInfo[norm]:
		res.Kind = MoreInfo
	case c.exit[norm]:
		res.Kind = Exit
	case matchAny(tokens, c.greeting):
		res.Kind = Greeting
	}
	return res
}

func (c *Classifier) topic(s string) *catalog.Topic {
	id, ok := c.topicKeys[textnorm.Normalize(s)]
	if !ok {
		return nil
	}
	return c.cat.Topic(id)
}

func phrases(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, s := range list {
		if toks := textnorm.Tokens(s); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

func exact(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, s := range list {
		if n := textnorm.Normalize(s); n != "" {
			m[n] = true
		}
	}
	return m
}

// matchAny reports whether any phrase occurs as a contiguous token run.
func matchAny(tokens []string, list []phrase) bool {
	for _, p := range list {
		if containsRun(tokens, p) {
			return true
		}
	}
	return false
}

func containsRun(tokens []string, p phrase) bool {
	for i := 0; i+len(p) <= len(tokens); i++ {
		match := true
		for j := range p {
			if tokens[i+j] != p[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
