package xpath1

import (
	"github.com/sigmundgranaas/petty/tree"
)

// VarScope is a lexical stack of variable bindings (spec §3.6, §4.J
// "Variable scoping"). A child scope shadows its parent for lookups but
// never mutates it, so closures and nested templates can each hold a
// reference to the frame they were built in.
type VarScope struct {
	parent *VarScope
	vars   map[tree.QName]Value
}

func NewVarScope(parent *VarScope) *VarScope {
	return &VarScope{parent: parent, vars: make(map[tree.QName]Value)}
}

func (s *VarScope) Set(name tree.QName, v Value) { s.vars[name] = v }

func (s *VarScope) Get(name tree.QName) (Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// KeyIndex is a pre-built (name, keyed-value) -> nodes index for the
// key() function (spec §4.D "key(name,value)"); id() walks the document
// instead of using it. It is rebuilt
// once per input document and then read-only for the rest of the run
// (spec §5 shared-resource rules).
type KeyIndex struct {
	indices map[string]map[string][]tree.Node
}

func NewKeyIndex() *KeyIndex {
	return &KeyIndex{indices: make(map[string]map[string][]tree.Node)}
}

func (k *KeyIndex) Add(keyName, value string, n tree.Node) {
	byValue, ok := k.indices[keyName]
	if !ok {
		byValue = make(map[string][]tree.Node)
		k.indices[keyName] = byValue
	}
	byValue[value] = append(byValue[value], n)
}

func (k *KeyIndex) Lookup(keyName, value string) []tree.Node {
	byValue, ok := k.indices[keyName]
	if !ok {
		return nil
	}
	return byValue[value]
}

// Context is the per-call record driving expression evaluation (spec
// §3.6): context item, 1-based position, size, variable environment,
// document root, key indices, and a handle back to the function
// registry so builtins can recurse into evaluation (e.g. sort, apply).
type Context struct {
	Item     tree.Node
	Position int
	Size     int
	Vars     *VarScope
	Root     tree.Node
	Keys     *KeyIndex
	Funcs    FunctionRegistry
	Strict   bool // spec §7: strict mode raises on undeclared variables

	// genIDs maps node identity to a generated NCName, populated lazily
	// so generate-id() is stable within one run (spec §4.D, §8 invariant 2).
	genIDs map[uint64]string
}

func NewContext(root tree.Node, funcs FunctionRegistry) *Context {
	return &Context{
		Item:     root,
		Position: 1,
		Size:     1,
		Vars:     NewVarScope(nil),
		Root:     root,
		Keys:     NewKeyIndex(),
		Funcs:    funcs,
		genIDs:   make(map[uint64]string),
	}
}

// WithItem returns a shallow copy of c positioned at a different
// context item/position/size, used when stepping into a predicate or
// axis iteration (spec §4.C "per-step sub-context").
func (c *Context) WithItem(item tree.Node, pos, size int) *Context {
	cp := *c
	cp.Item = item
	cp.Position = pos
	cp.Size = size
	return &cp
}

// WithVars returns a shallow copy of c with a new child variable scope,
// used for for/let bindings and template parameter scopes.
func (c *Context) WithVars(vars *VarScope) *Context {
	cp := *c
	cp.Vars = vars
	return &cp
}

// GenerateID returns a stable NCName for n's identity, memoized for the
// lifetime of this context tree (spec §4.D generate-id()).
func (c *Context) GenerateID(n tree.Node) string {
	id := n.Identity()
	if s, ok := c.genIDs[id]; ok {
		return s
	}
	s := formatGenID(id)
	c.genIDs[id] = s
	return s
}

func formatGenID(id uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if id == 0 {
		return "gid0"
	}
	var buf [16]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = alphabet[id%uint64(len(alphabet))]
		id /= uint64(len(alphabet))
	}
	return "gid" + string(buf[i:])
}
