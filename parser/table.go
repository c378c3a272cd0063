package parser

// Resolver looks declarations up by table key.
type Resolver interface {
	Lookup(key string) (*Decl, bool)

	// LookupOpaque returns the opaque pointer type whose pointee resolves to
	// the given key, e.g. "struct idevice_private".
	LookupOpaque(pointee string) (*Decl, bool)
}

// index is the name table shared by Scope and Table.
type index struct {
	decls    map[string]*Decl
	byTarget map[string]*Decl
	order    []*Decl
}

func newIndex() index {
	return index{
		decls:    make(map[string]*Decl),
		byTarget: make(map[string]*Decl),
	}
}

func (ix *index) Lookup(key string) (*Decl, bool) {
	d, ok := ix.decls[key]
	return d, ok
}

func (ix *index) LookupOpaque(pointee string) (*Decl, bool) {
	d, ok := ix.byTarget[pointee]
	return d, ok
}

// add registers d under key. The first registration of a key wins.
func (ix *index) add(key string, d *Decl) bool {
	if _, ok := ix.decls[key]; ok {
		return false
	}
	ix.decls[key] = d
	ix.order = append(ix.order, d)
	return true
}

// alias maps a second key to an already added declaration.
func (ix *index) alias(key string, d *Decl) bool {
	if _, ok := ix.decls[key]; ok {
		return false
	}
	ix.decls[key] = d
	return true
}

func (ix *index) addOpaqueTarget(pointee string, d *Decl) {
	if pointee == "" {
		return
	}
	if _, ok := ix.byTarget[pointee]; !ok {
		ix.byTarget[pointee] = d
	}
}

// Scope holds every declaration seen while extracting one header, including
// those of its transitive includes.
type Scope struct {
	index
	parent Resolver
}

func newScope(parent Resolver) *Scope {
	return &Scope{index: newIndex(), parent: parent}
}

// Lookup resolves key in the scope first, then in the parent table.
func (s *Scope) Lookup(key string) (*Decl, bool) {
	if s.parent != nil {
		if d, ok := s.parent.Lookup(key); ok {
			return d, true
		}
	}
	return s.index.Lookup(key)
}

func (s *Scope) LookupOpaque(pointee string) (*Decl, bool) {
	if s.parent != nil {
		if d, ok := s.parent.LookupOpaque(pointee); ok {
			return d, true
		}
	}
	return s.index.LookupOpaque(pointee)
}

// Table is the type table shared by every module of one generation run. It
// maps each canonical name to exactly one declaration and remembers which
// module emitted it.
type Table struct {
	index
	owner map[string]string
}

func NewTable() *Table {
	return &Table{index: newIndex(), owner: make(map[string]string)}
}

// Register records d as emitted by module. It returns false when the key is
// already taken, in which case the existing declaration stays canonical.
func (t *Table) Register(module string, d *Decl) bool {
	key := d.Key()
	if !t.add(key, d) {
		return false
	}
	t.owner[key] = module
	if d.Alias != "" && t.alias(d.Alias, d) {
		t.owner[d.Alias] = module
	}
	if d.Kind == DeclOpaque {
		t.addOpaqueTarget(opaqueTarget(t, d), d)
	}
	return true
}

// Owner returns the module that emitted key.
func (t *Table) Owner(key string) (string, bool) {
	m, ok := t.owner[key]
	return m, ok
}

// Decls returns every registered declaration in registration order.
func (t *Table) Decls() []*Decl {
	return t.order
}

// Resolve follows typedef chains until t is no longer a plain typedef name.
// Opaque pointer types, structs and enums resolve to themselves.
func Resolve(r Resolver, t CType) CType {
	for range 32 {
		if t.Kind != KindNamed || t.Tag != "" {
			return t
		}
		d, ok := r.Lookup(t.Name)
		if !ok || d.Kind != DeclTypedef {
			return t
		}
		isConst := t.Const
		t = d.Underlying
		t.Const = t.Const || isConst
	}
	return t
}

// OpaqueFor returns the canonical opaque pointer type for t, which may be the
// opaque typedef itself or a raw pointer to its pointee.
func OpaqueFor(r Resolver, t CType) (*Decl, bool) {
	switch t.Kind {
	case KindNamed:
		resolved := Resolve(r, t)
		if resolved.Kind == KindNamed && resolved.Tag == "" {
			if d, ok := r.Lookup(resolved.Name); ok && d.Kind == DeclOpaque {
				return d, true
			}
		}
		if resolved.Kind == KindPointer {
			return OpaqueFor(r, resolved)
		}
	case KindPointer:
		key := targetKey(r, *t.Elem)
		if key == "" {
			return nil, false
		}
		return r.LookupOpaque(key)
	}
	return nil, false
}

// opaqueTarget returns the key of the incomplete type an opaque pointer type
// points at, or "" for void pointers.
func opaqueTarget(r Resolver, d *Decl) string {
	if d.Underlying.Kind != KindPointer {
		return ""
	}
	return targetKey(r, *d.Underlying.Elem)
}

func targetKey(r Resolver, t CType) string {
	resolved := Resolve(r, t)
	if resolved.Kind != KindNamed || resolved.Tag == "" {
		return ""
	}
	return resolved.Key()
}
