// Package library implements the Library concept: each user owns versions
// (one per story title), and each version holds the revisions ("fics") of
// that story in submission order.
//
// A fic's version number is assigned when it is submitted and never changes,
// so deleting revision 0 leaves revision 1 numbered 1. Deleting the last fic
// of a version removes the version.
package library

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
)

// Name is the concept name used in action references.
const Name = "Library"

type fic struct {
	id            string
	name          string
	text          string
	authorTags    string
	date          ir.IRValue
	versionNumber int64
}

type version struct {
	id    string
	title string
	fics  []*fic
	next  int64
}

type shelf struct {
	versions []*version
}

func (s *shelf) version(title string) *version {
	for _, v := range s.versions {
		if v.title == title {
			return v
		}
	}
	return nil
}

func (s *shelf) remove(v *version) {
	s.versions = slices.DeleteFunc(s.versions, func(x *version) bool { return x == v })
}

// Concept is the Library concept.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Concept struct {
	concept.Dispatch

	ids concept.IDGenerator

	mu      sync.RWMutex
	shelves map[string]*shelf
}

// Option configures the concept.
type Option func(*Concept)

// WithIDs sets the generator for version and fic identifiers.
func WithIDs(g concept.IDGenerator) Option {
	return func(c *Concept) { c.ids = g }
}

// New creates an empty Library.
func New(opts ...Option) *Concept {
	c := &Concept{
		Dispatch: concept.NewDispatch(Name),
		ids:      concept.UUIDs{},
		shelves:  make(map[string]*shelf),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.HandleAction(ir.Action("addUser", ir.Args("user"), nil), c.addUser)
	c.HandleAction(ir.Action("submitNewFic",
		ir.Args("user", "ficText", "ficName", "authorTags", "date"),
		map[string]string{"ficId": "string"}), c.submitNewFic)
	c.HandleAction(ir.Action("submitNewVersionOfFanfic",
		ir.Args("user", "ficText", "authorTags", "versionTitle", "date", "ficName"),
		map[string]string{"versionId": "string"}), c.submitNewVersion)
	c.HandleAction(ir.Action("deleteFic", ir.Args("user", "ficName", "versionNumber"),
		map[string]string{"ficId": "string"}), c.deleteFic)
	c.HandleAction(ir.Action("deleteVersion", ir.Args("user", "ficTitle"),
		map[string]string{"versionId": "string"}), c.deleteVersion)
	c.HandleAction(ir.Action("deleteFicsAndUser", ir.Args("user"), nil), c.deleteFicsAndUser)

	c.HandleQuery(ir.Query("_viewFic", ir.Args("user", "ficName", "versionNumber"),
		map[string]string{"fic": "object"}), c.viewFic)
	c.HandleQuery(ir.Query("_getVersion", ir.Args("user", "versionTitle"),
		map[string]string{"version": "object"}), c.getVersion)
	c.HandleQuery(ir.Query("_getAllUserVersions", ir.Args("user"),
		map[string]string{"versions": "array"}), c.getAllUserVersions)
	return c
}

func str(args ir.IRObject, key string) string {
	s, _ := args.String(key)
	return s
}

func noUser(user string) ir.IRObject {
	return ir.ErrorRecordf("User '%s' does not exist.", user)
}

func (c *Concept) addUser(_ context.Context, args ir.IRObject) ir.IRObject {
	user := str(args, "user")
	if user == "" {
		return ir.ErrorRecord("User must not be empty.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shelves[user]; ok {
		return ir.ErrorRecordf("User '%s' already exists.", user)
	}
	c.shelves[user] = &shelf{}
	return ir.IRObject{}
}

func (c *Concept) newFic(v *version, args ir.IRObject, name string) *fic {
	f := &fic{
		id:            c.ids.NewID(),
		name:          name,
		text:          str(args, "ficText"),
		authorTags:    str(args, "authorTags"),
		date:          args["date"],
		versionNumber: v.next,
	}
	if f.date == nil {
		f.date = ir.IRNull{}
	}
	v.next++
	v.fics = append(v.fics, f)
	return f
}

func (c *Concept) submitNewFic(_ context.Context, args ir.IRObject) ir.IRObject {
	user, name := str(args, "user"), str(args, "ficName")

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shelves[user]
	if !ok {
		return noUser(user)
	}
	if name == "" {
		return ir.ErrorRecord("Fic name must not be empty.")
	}
	if s.version(name) != nil {
		return ir.ErrorRecordf("Fic with name '%s' already exists for user '%s'.", name, user)
	}

	v := &version{id: c.ids.NewID(), title: name}
	s.versions = append(s.versions, v)
	f := c.newFic(v, args, name)
	return ir.Obj(ir.O("ficId", ir.IRString(f.id)))
}

func (c *Concept) submitNewVersion(_ context.Context, args ir.IRObject) ir.IRObject {
	user, title := str(args, "user"), str(args, "versionTitle")

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shelves[user]
	if !ok {
		return noUser(user)
	}
	v := s.version(title)
	if v == nil {
		return ir.ErrorRecordf("Fic version '%s' does not exist for user '%s'.", title, user)
	}

	name := str(args, "ficName")
	if name == "" {
		name = title
	}
	f := c.newFic(v, args, name)
	return ir.Obj(ir.O("versionId", ir.IRString(f.id)))
}

// locate finds a fic by story title and version number. Caller holds the lock.
func (c *Concept) locate(args ir.IRObject) (*shelf, *version, int, ir.IRObject) {
	user, name := str(args, "user"), str(args, "ficName")
	s, ok := c.shelves[user]
	if !ok {
		return nil, nil, 0, noUser(user)
	}
	v := s.version(name)
	if v == nil {
		return nil, nil, 0, ir.ErrorRecordf("Fic with name '%s' does not exist for user '%s'.", name, user)
	}
	n, ok := args.Int("versionNumber")
	if !ok {
		return nil, nil, 0, ir.ErrorRecord("Version number must be an integer.")
	}
	idx := slices.IndexFunc(v.fics, func(f *fic) bool { return f.versionNumber == n })
	if idx < 0 {
		return nil, nil, 0, ir.ErrorRecordf("Version number '%d' is out of range for fic '%s'.", n, name)
	}
	return s, v, idx, nil
}

func (c *Concept) deleteFic(_ context.Context, args ir.IRObject) ir.IRObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, v, idx, errRec := c.locate(args)
	if errRec != nil {
		return errRec
	}
	f := v.fics[idx]
	v.fics = slices.Delete(v.fics, idx, idx+1)
	if len(v.fics) == 0 {
		s.remove(v)
	}
	return ir.Obj(ir.O("ficId", ir.IRString(f.id)))
}

func (c *Concept) deleteVersion(_ context.Context, args ir.IRObject) ir.IRObject {
	user, title := str(args, "user"), str(args, "ficTitle")

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shelves[user]
	if !ok {
		return noUser(user)
	}
	v := s.version(title)
	if v == nil {
		return ir.ErrorRecordf("Version with title '%s' not found for user '%s'.", title, user)
	}
	s.remove(v)
	return ir.Obj(ir.O("versionId", ir.IRString(v.id)))
}

func (c *Concept) deleteFicsAndUser(_ context.Context, args ir.IRObject) ir.IRObject {
	user := str(args, "user")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shelves[user]; !ok {
		return noUser(user)
	}
	delete(c.shelves, user)
	return ir.IRObject{}
}

func (c *Concept) viewFic(_ context.Context, args ir.IRObject) []ir.IRObject {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, v, idx, errRec := c.locate(args)
	if errRec != nil {
		return []ir.IRObject{errRec}
	}
	return []ir.IRObject{ir.Obj(ir.O("fic", v.fics[idx].record()))}
}

func (c *Concept) getVersion(_ context.Context, args ir.IRObject) []ir.IRObject {
	user, title := str(args, "user"), str(args, "versionTitle")

	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shelves[user]
	if !ok {
		return []ir.IRObject{noUser(user)}
	}
	v := s.version(title)
	if v == nil {
		return []ir.IRObject{ir.ErrorRecordf("Fic version '%s' does not exist for user '%s'.", title, user)}
	}
	return []ir.IRObject{ir.Obj(ir.O("version", v.record()))}
}

func (c *Concept) getAllUserVersions(_ context.Context, args ir.IRObject) []ir.IRObject {
	user := str(args, "user")

	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shelves[user]
	if !ok {
		return []ir.IRObject{noUser(user)}
	}
	versions := make(ir.IRArray, len(s.versions))
	for i, v := range s.versions {
		versions[i] = v.record()
	}
	return []ir.IRObject{ir.Obj(ir.O("versions", versions))}
}

func (f *fic) record() ir.IRObject {
	return ir.Obj(
		ir.O("id", ir.IRString(f.id)),
		ir.O("name", ir.IRString(f.name)),
		ir.O("text", ir.IRString(f.text)),
		ir.O("authorTags", ir.IRString(f.authorTags)),
		ir.O("date", f.date),
		ir.O("versionNumber", ir.IRInt(f.versionNumber)),
	)
}

func (v *version) record() ir.IRObject {
	fics := make(ir.IRArray, len(v.fics))
	for i, f := range v.fics {
		fics[i] = f.record()
	}
	return ir.Obj(
		ir.O("id", ir.IRString(v.id)),
		ir.O("title", ir.IRString(v.title)),
		ir.O("fics", fics),
	)
}

// FicIDs extracts the fic identifiers from a version record as returned by
// _getVersion, or from every version of a _getAllUserVersions record.
func FicIDs(rec ir.IRValue) []string {
	var out []string
	var walk func(v ir.IRValue)
	walk = func(v ir.IRValue) {
		switch val := v.(type) {
		case ir.IRArray:
			for _, elem := range val {
				walk(elem)
			}
		case ir.IRObject:
			if fics, ok := val["fics"].(ir.IRArray); ok {
				for _, f := range fics {
					if obj, ok := f.(ir.IRObject); ok {
						if id, ok := obj.String("id"); ok {
							out = append(out, id)
						}
					}
				}
			}
		}
	}
	walk(rec)
	return out
}
