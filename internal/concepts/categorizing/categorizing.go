// Package categorizing implements the Categorizing concept: for each fic it
// keeps the vocabulary tags the text suggests and the author tags that match
// no known tag.
package categorizing

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
)

// Name is the concept name used in action references.
const Name = "Categorizing"

// DefaultMaxDistance is the default Levenshtein distance within which an
// author tag counts as a known tag.
const DefaultMaxDistance = 2

type ficCategory struct {
	ficID     string
	suggested []Tag
	toRemove  []string
}

// Concept is the Categorizing concept.
//
// Thread-safety: safe for concurrent use via internal mutex. The vocabulary
// may be replaced at any time with SetVocabulary or Watch.
type Concept struct {
	concept.Dispatch

	maxDistance int
	logger      *slog.Logger

	mu         sync.RWMutex
	vocab      Vocabulary
	categories map[string]*ficCategory
	order      []string
}

// Option configures the concept.
type Option func(*Concept)

// WithVocabulary sets the initial vocabulary.
func WithVocabulary(v Vocabulary) Option {
	return func(c *Concept) { c.vocab = v }
}

// WithMaxDistance sets the fuzzy match distance for author tags.
func WithMaxDistance(d int) Option {
	return func(c *Concept) { c.maxDistance = d }
}

// WithLogger sets the logger used for vocabulary reloads.
func WithLogger(l *slog.Logger) Option {
	return func(c *Concept) { c.logger = l }
}

// New creates an empty Categorizing concept.
func New(opts ...Option) *Concept {
	c := &Concept{
		Dispatch:    concept.NewDispatch(Name),
		maxDistance: DefaultMaxDistance,
		logger:      slog.Default(),
		categories:  make(map[string]*ficCategory),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.HandleAction(ir.Action("categorizeFic", ir.Args("ficId", "ficText", "authorTags"),
		map[string]string{"ficId": "string"}), c.categorizeFic)
	c.HandleAction(ir.Action("deleteFicCategory", ir.Args("ficId"),
		map[string]string{"ficId": "string"}), c.deleteFicCategory)
	c.HandleAction(ir.Action("deleteFicCategories", ir.Args("ficIds"),
		map[string]string{"deleted": "int"}), c.deleteFicCategories)
	c.HandleQuery(ir.Query("_viewFicCategory", ir.Args("ficId"),
		map[string]string{"ficCategory": "object"}), c.viewFicCategory)
	c.HandleQuery(ir.Query("_getAllFicCategories", nil,
		map[string]string{"ficCategories": "array"}), c.getAllFicCategories)
	return c
}

// SetVocabulary replaces the vocabulary. Existing categorizations are kept.
func (c *Concept) SetVocabulary(v Vocabulary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vocab = v
}

// Vocabulary returns the current vocabulary.
func (c *Concept) Vocabulary() Vocabulary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vocab)
}

func (c *Concept) categorizeFic(_ context.Context, args ir.IRObject) ir.IRObject {
	ficID, _ := args.String("ficId")
	if ficID == "" {
		return ir.ErrorRecord("Fic ID must not be empty.")
	}
	text, _ := args.String("ficText")
	authorTags, _ := args.String("authorTags")
	tags := SplitTags(authorTags)

	c.mu.Lock()
	defer c.mu.Unlock()

	fc := &ficCategory{ficID: ficID}
	for _, t := range c.vocab.Mentioned(text) {
		if !slices.ContainsFunc(tags, func(a string) bool { return strings.EqualFold(a, t.Name) }) {
			fc.suggested = append(fc.suggested, t)
		}
	}
	for _, a := range tags {
		if _, ok := c.vocab.Closest(a, c.maxDistance); !ok {
			fc.toRemove = append(fc.toRemove, a)
		}
	}

	if _, exists := c.categories[ficID]; !exists {
		c.order = append(c.order, ficID)
	}
	c.categories[ficID] = fc
	return ir.Obj(ir.O("ficId", ir.IRString(ficID)))
}

func (c *Concept) remove(ficID string) bool {
	if _, ok := c.categories[ficID]; !ok {
		return false
	}
	delete(c.categories, ficID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == ficID })
	return true
}

func (c *Concept) deleteFicCategory(_ context.Context, args ir.IRObject) ir.IRObject {
	ficID, _ := args.String("ficId")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remove(ficID) {
		return ir.ErrorRecordf("FicCategory for fic ID '%s' does not exist.", ficID)
	}
	return ir.Obj(ir.O("ficId", ir.IRString(ficID)))
}

// deleteFicCategories removes every listed categorization that exists.
// Fics that were never categorized are skipped.
func (c *Concept) deleteFicCategories(_ context.Context, args ir.IRObject) ir.IRObject {
	ids, ok := args.StringSlice("ficIds")
	if !ok {
		if _, present := args["ficIds"]; present {
			return ir.ErrorRecord("ficIds must be a list of strings.")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if c.remove(id) {
			deleted++
		}
	}
	return ir.Obj(ir.O("deleted", ir.IRInt(deleted)))
}

func (c *Concept) viewFicCategory(_ context.Context, args ir.IRObject) []ir.IRObject {
	ficID, _ := args.String("ficId")

	c.mu.RLock()
	defer c.mu.RUnlock()
	fc, ok := c.categories[ficID]
	if !ok {
		return []ir.IRObject{ir.ErrorRecordf("FicCategory for fic ID '%s' does not exist.", ficID)}
	}
	return []ir.IRObject{ir.Obj(ir.O("ficCategory", fc.record()))}
}

func (c *Concept) getAllFicCategories(context.Context, ir.IRObject) []ir.IRObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make(ir.IRArray, 0, len(c.order))
	for _, id := range c.order {
		all = append(all, c.categories[id].record())
	}
	return []ir.IRObject{ir.Obj(ir.O("ficCategories", all))}
}

func (fc *ficCategory) record() ir.IRObject {
	suggested := make(ir.IRArray, len(fc.suggested))
	for i, t := range fc.suggested {
		suggested[i] = ir.Obj(ir.O("name", ir.IRString(t.Name)), ir.O("category", ir.IRString(t.Category)))
	}
	return ir.Obj(
		ir.O("ficId", ir.IRString(fc.ficID)),
		ir.O("suggestedTags", suggested),
		ir.O("tagsToRemove", ir.Strings(fc.toRemove...)),
	)
}
