// Package access implements the permission-annotated prefix tree (C2)
// that gates every request: which users can see which paths, and at
// what level.
package access

import (
	"fmt"
	"sort"
	"strings"
)

// Perm is one point on the ReadOnly/ReadWrite/IndexOnly lattice.
// Larger values are strictly more permissive.
type Perm int

const (
	// PermNone means no node exists at this position.
	PermNone Perm = iota
	// PermIndexOnly grants listing of a name from its parent but no
	// content access at this node.
	PermIndexOnly
	// PermReadOnly grants GET/HEAD/PROPFIND/OPTIONS style access.
	PermReadOnly
	// PermReadWrite grants full read/write access.
	PermReadWrite
)

func (p Perm) String() string {
	switch p {
	case PermIndexOnly:
		return "index-only"
	case PermReadOnly:
		return "read-only"
	case PermReadWrite:
		return "read-write"
	default:
		return "none"
	}
}

// readOnlyMethods is the set of HTTP/extension methods that a
// PermReadOnly node satisfies.
var readOnlyMethods = map[string]bool{
	"GET": true, "OPTIONS": true, "HEAD": true, "PROPFIND": true,
	"CHECKAUTH": true, "LOGOUT": true,
}

// Node is one segment of an access tree.
type Node struct {
	perm     Perm
	children map[string]*Node
}

// newNode creates a node defaulting to PermIndexOnly: every node that
// exists in the tree is, at minimum, a traversal stub for whatever
// real grant sits below it. PermNone is reserved for paths with no
// node at all (see Find).
func newNode() *Node {
	return &Node{perm: PermIndexOnly, children: map[string]*Node{}}
}

// Tree is one user's (or anonymous's) root access node.
type Tree struct {
	root *Node
}

// New returns a tree whose root is an index-only stub, the default
// for any position that exists but carries no explicit grant of its
// own. Use NoAccess for the "nothing is configured here" sentinel.
func New() *Tree {
	return &Tree{root: newNode()}
}

// NoAccess returns a tree that denies everything, including listing.
// Unlike New, its root carries no implicit IndexOnly stub; it is the
// explicit "no rule applies" sentinel (e.g. an unauthenticated
// request when no anonymous rule exists).
func NoAccess() *Tree {
	return &Tree{root: &Node{children: map[string]*Node{}}}
}

// segments splits a clean relative path ("a/b/c", "" for root) into
// its path components.
func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// SetPerm raises the permission at path to at least perm. Existing
// descendants whose permission is already subsumed (<= perm) are
// pruned, since they add nothing once the ancestor covers them.
func (t *Tree) SetPerm(path string, perm Perm) {
	node := t.root
	for _, seg := range segments(path) {
		child, ok := node.children[seg]
		if !ok {
			child = newNode()
			node.children[seg] = child
		}
		node = child
	}
	if perm > node.perm {
		node.perm = perm
	}
	pruneSubsumed(node, node.perm)
}

func pruneSubsumed(node *Node, floor Perm) {
	for name, child := range node.children {
		if child.perm <= floor && len(child.children) == 0 {
			delete(node.children, name)
			continue
		}
		if child.perm < floor {
			child.perm = floor
		}
		pruneSubsumed(child, floor)
	}
}

// Merge additively unions other into t (used to fold the anonymous
// tree into every per-user tree).
func (t *Tree) Merge(other *Tree) {
	if other == nil {
		return
	}
	mergeNode(t.root, other.root, "")
}

func mergeNode(dst *Node, src *Node, path string) {
	if src.perm > dst.perm {
		dst.perm = src.perm
	}
	for name, schild := range src.children {
		dchild, ok := dst.children[name]
		if !ok {
			dchild = newNode()
			dst.children[name] = dchild
		}
		mergeNode(dchild, schild, path+"/"+name)
	}
}

// Found is the result of walking the tree to a path: the effective,
// inherited permission and whether the node (or an ancestor)
// actually exists.
type Found struct {
	Perm   Perm
	Exists bool
}

// Find walks path, inheriting the maximum perm seen along the way. If
// a segment is missing, the path doesn't exist as a node: it's
// invisible (PermNone) unless an ancestor already granted ReadOnly or
// stronger, in which case the undeclared path is still authorized
// (just not enumerable) because access isn't capped at IndexOnly.
func (t *Tree) Find(path string) Found {
	node := t.root
	acc := node.perm
	for _, seg := range segments(path) {
		child, ok := node.children[seg]
		if !ok {
			if acc <= PermIndexOnly {
				return Found{Perm: PermNone, Exists: false}
			}
			return Found{Perm: acc, Exists: true}
		}
		node = child
		if node.perm > acc {
			acc = node.perm
		}
	}
	return Found{Perm: acc, Exists: true}
}

// Guard applies Find and then the method's read-only/read-write
// requirement, returning PermNone when the method isn't satisfied.
func (t *Tree) Guard(path, method string) Found {
	f := t.Find(path)
	if f.Perm == PermNone {
		return f
	}
	if !readOnlyMethods[strings.ToUpper(method)] && f.Perm != PermReadWrite {
		return Found{Perm: PermNone, Exists: f.Exists}
	}
	return f
}

// ChildNames returns the declared children of path, used when the
// effective node is IndexOnly and the real directory must not be
// read from disk.
func (t *Tree) ChildNames(path string) []string {
	node := t.root
	for _, seg := range segments(path) {
		child, ok := node.children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubtreeAt clones the node at path (and everything declared below
// it) out of t into a fresh tree rooted at the same path prefix, so
// the caller can go on addressing it with the original relative
// paths. The cloned root's own permission is raised to at least
// floor, the caller's already-computed effective permission for path
// (folding in inheritance and the requesting method's requirement) —
// this is what makes a guarded subtree usable as a traversal stub
// instead of a single flattened node with no children.
func (t *Tree) SubtreeAt(path string, floor Perm) *Tree {
	sub := New()
	segs := segments(path)

	src := t.root
	exists := true
	for _, seg := range segs {
		child, ok := src.children[seg]
		if !ok {
			exists = false
			break
		}
		src = child
	}

	dst := sub.root
	for _, seg := range segs {
		child, ok := dst.children[seg]
		if !ok {
			child = newNode()
			dst.children[seg] = child
		}
		dst = child
	}
	if exists {
		cloneInto(dst, src)
	}
	if floor > dst.perm {
		dst.perm = floor
	}
	return sub
}

func cloneInto(dst, src *Node) {
	if src.perm > dst.perm {
		dst.perm = src.perm
	}
	for name, schild := range src.children {
		dchild, ok := dst.children[name]
		if !ok {
			dchild = newNode()
			dst.children[name] = dchild
		}
		cloneInto(dchild, schild)
	}
}

// EntryPaths returns the minimal set of relative directory roots
// whose full subtree content is accessible to the caller: every
// node reachable from root whose perm is >= PermReadOnly, pruning
// below the first such node found along each branch.
func (t *Tree) EntryPaths() []string {
	var out []string
	var walk func(node *Node, path string, inherited Perm)
	walk = func(node *Node, path string, inherited Perm) {
		eff := node.perm
		if eff < inherited {
			eff = inherited
		}
		if eff >= PermReadOnly {
			out = append(out, path)
			return
		}
		for name, child := range node.children {
			childPath := name
			if path != "" {
				childPath = path + "/" + name
			}
			walk(child, childPath, eff)
		}
	}
	walk(t.root, "", t.root.perm)
	sort.Strings(out)
	return out
}

// Credential is either a cleartext password or a SHA-512-crypt hash
// ("$6$..."), detected by prefix.
type Credential struct {
	Raw    string
	Hashed bool
}

// NewCredential classifies raw per §3.
func NewCredential(raw string) Credential {
	return Credential{Raw: raw, Hashed: strings.HasPrefix(raw, "$6$")}
}

// User is one configured account: its credential and its access tree
// (Build merges the anonymous tree into it).
type User struct {
	Name       string
	Credential Credential
	Tree       *Tree
}

// Control is the full access-control configuration: the per-user
// trees (already unioned with anonymous) plus the anonymous tree
// itself, plus the derived UseHashedPassword flag.
type Control struct {
	Users             map[string]*User
	Anonymous         *Tree
	UseHashedPassword bool
}

// Empty reports whether there are no users and no anonymous rule, in
// which case the guard below grants ReadWrite over everything.
func (c *Control) Empty() bool {
	return len(c.Users) == 0 && c.Anonymous == nil
}

// GuardOptions carries the handful of guard-call flags that change
// behavior for OPTIONS/WebDAV discovery requests.
type GuardOptions struct {
	// IsOptionsDiscovery is true when method is OPTIONS and the
	// caller is probing for capabilities without having to
	// authenticate.
	IsOptionsDiscovery bool
}

// GuardResult names the authenticated user (if any) and the
// effective sub-tree granted for this request.
type GuardResult struct {
	User      string
	HasUser   bool
	Tree      *Tree
	Forbidden bool // authorization present but invalid
}

// Guard implements the top-level guard(path, method, authorization,
// guard_options) decision table from spec.md §4.2.
func (c *Control) Guard(path, method string, authUser string, authOK, authPresent bool, opts GuardOptions) GuardResult {
	if c.Empty() {
		full := New()
		full.SetPerm("", PermReadWrite)
		return GuardResult{Tree: full}
	}
	if authPresent {
		if !authOK {
			return GuardResult{Forbidden: true}
		}
		user, ok := c.Users[authUser]
		if !ok {
			return GuardResult{Forbidden: true}
		}
		if strings.ToUpper(method) == "OPTIONS" {
			ro := New()
			ro.SetPerm("", PermReadOnly)
			return GuardResult{User: user.Name, HasUser: true, Tree: ro}
		}
		f := user.Tree.Guard(path, method)
		if f.Perm == PermNone {
			return GuardResult{User: user.Name, HasUser: true, Tree: NoAccess()}
		}
		sub := user.Tree.SubtreeAt(path, f.Perm)
		return GuardResult{User: user.Name, HasUser: true, Tree: sub}
	}
	if opts.IsOptionsDiscovery && strings.ToUpper(method) == "OPTIONS" {
		ro := New()
		ro.SetPerm("", PermReadOnly)
		return GuardResult{Tree: ro}
	}
	if c.Anonymous != nil {
		f := c.Anonymous.Guard(path, method)
		if f.Perm == PermNone {
			return GuardResult{Tree: NoAccess()}
		}
		sub := c.Anonymous.SubtreeAt(path, f.Perm)
		return GuardResult{Tree: sub}
	}
	return GuardResult{Tree: NoAccess()}
}

// ParseRule parses one "<account>@<paths>" rule from the auth-rule
// mini-language in spec.md §4.2/§6.
func ParseRule(rule string) (account string, pathSpecs []string, err error) {
	parts := splitRules(rule)
	if len(parts) != 1 {
		return "", nil, fmt.Errorf("access: expected a single rule, got %d", len(parts))
	}
	return parseOneRule(parts[0])
}

// SplitRules splits a rule list on "|", except where the "|" falls
// inside a password (i.e. the part up to the next "@/" is treated as
// one field) per spec.md §4.2.
func SplitRules(s string) []string {
	return splitRules(s)
}

func splitRules(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '|' {
			continue
		}
		// This "|" is a real separator only once the part collected
		// since the previous separator already holds its "@/"; before
		// that it is still inside the account (e.g. a password).
		if strings.Contains(s[start:i], "@/") {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseOneRule(rule string) (account string, pathSpecs []string, err error) {
	idx := strings.LastIndex(rule, "@")
	if idx < 0 {
		return "", nil, fmt.Errorf("access: rule %q missing '@'", rule)
	}
	account = rule[:idx]
	pathsPart := rule[idx+1:]
	if pathsPart == "" {
		return "", nil, fmt.Errorf("access: rule %q has no paths", rule)
	}
	pathSpecs = strings.Split(pathsPart, ",")
	return account, pathSpecs, nil
}

// ParsePathSpec parses one "<path>[:ro|:rw]" entry, defaulting to ro.
func ParsePathSpec(spec string) (path string, perm Perm, err error) {
	parts := strings.SplitN(spec, ":", 2)
	path = strings.Trim(parts[0], "/")
	perm = PermReadOnly
	if len(parts) == 2 {
		switch parts[1] {
		case "ro":
			perm = PermReadOnly
		case "rw":
			perm = PermReadWrite
		default:
			return "", 0, fmt.Errorf("access: unknown permission suffix %q", parts[1])
		}
	}
	return path, perm, nil
}

// ParseAccount splits "<user>:<pass>" (or bare "" for anonymous) into
// its username and credential.
func ParseAccount(account string) (user string, cred Credential, anonymous bool) {
	if account == "" {
		return "", Credential{}, true
	}
	idx := strings.Index(account, ":")
	if idx < 0 {
		return account, Credential{}, false
	}
	return account[:idx], NewCredential(account[idx+1:]), false
}

// Build constructs a Control from the raw rule strings as loaded by
// the configuration collaborator.
func Build(rules []string) (*Control, error) {
	ctrl := &Control{Users: map[string]*User{}}
	var anonRules []string
	userOrder := map[string]bool{}

	for _, raw := range rules {
		for _, rule := range SplitRules(raw) {
			account, pathSpecs, err := parseOneRule(rule)
			if err != nil {
				return nil, err
			}
			user, cred, anon := ParseAccount(account)
			if anon {
				if len(anonRules) > 0 {
					return nil, fmt.Errorf("access: duplicate anonymous rule")
				}
				anonRules = pathSpecs
				continue
			}
			u, ok := ctrl.Users[user]
			if !ok {
				u = &User{Name: user, Credential: cred, Tree: New()}
				ctrl.Users[user] = u
				userOrder[user] = true
			}
			for _, ps := range pathSpecs {
				p, perm, err := ParsePathSpec(ps)
				if err != nil {
					return nil, err
				}
				u.Tree.SetPerm(p, perm)
			}
			if cred.Hashed {
				ctrl.UseHashedPassword = true
			}
		}
	}

	if len(anonRules) > 0 {
		anon := New()
		for _, ps := range anonRules {
			p, perm, err := ParsePathSpec(ps)
			if err != nil {
				return nil, err
			}
			anon.SetPerm(p, perm)
		}
		ctrl.Anonymous = anon
		for _, u := range ctrl.Users {
			u.Tree.Merge(anon)
		}
	}

	return ctrl, nil
}
