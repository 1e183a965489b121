// Package policy implements the operation whitelist that governs what a
// compartment is permitted to execute. Tags name primitive operations
// ("load", "string.rep"); a leading colon marks a group (":string") that
// expands to its members.
package policy

import "strings"

// Tag identifies a primitive operation or, with a ":" prefix, a group of them.
type Tag string

// IsGroup reports whether the tag names a group rather than a single operation.
func (t Tag) IsGroup() bool {
	return strings.HasPrefix(string(t), ":")
}

// Operation groups. Group membership is fixed; unknown tags expand to themselves.
const (
	GroupBase   Tag = ":base"
	GroupString Tag = ":string"
	GroupTable  Tag = ":table"
	GroupMath   Tag = ":math"
	GroupLoad   Tag = ":load"
	GroupMeta   Tag = ":meta"
)

var groups = map[Tag][]Tag{
	GroupBase: {
		"assert", "error", "ipairs", "next", "pairs", "pcall", "select",
		"tonumber", "tostring", "type", "unpack", "print",
	},
	GroupString: {
		"string.byte", "string.char", "string.find", "string.format",
		"string.gmatch", "string.gsub", "string.len", "string.lower",
		"string.match", "string.rep", "string.reverse", "string.sub",
		"string.upper",
	},
	GroupTable: {
		"table.concat", "table.insert", "table.remove", "table.sort",
	},
	GroupMath: {
		"math.abs", "math.ceil", "math.floor", "math.max", "math.min",
		"math.random", "math.sqrt",
	},
	GroupLoad: {
		"load", "loadstring", "loadfile", "dofile", "require",
	},
	GroupMeta: {
		"getmetatable", "setmetatable", "rawequal", "rawget", "rawset",
		"collectgarbage",
	},
}

// DefaultTags is the base whitelist for a freshly constructed compartment.
// Load-family and metatable operations are deliberately absent; they are
// granted per action during injection when needed.
var DefaultTags = []Tag{GroupBase, GroupString, GroupTable, GroupMath}

// Expand resolves groups to their member tags. Plain tags pass through
// unchanged; order follows the input with group members in declaration order.
func Expand(tags ...Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if members, ok := groups[t]; ok {
			out = append(out, members...)
			continue
		}
		out = append(out, t)
	}
	return out
}

var groupOrder = []Tag{GroupBase, GroupString, GroupTable, GroupMath, GroupLoad, GroupMeta}

// Catalog returns every governed operation tag across all groups, in a
// stable order. Tags outside the catalog are legal in a whitelist but have
// no effect on compartment enforcement.
func Catalog() []Tag {
	var out []Tag
	for _, g := range groupOrder {
		out = append(out, groups[g]...)
	}
	return out
}

// Members returns the member tags of a group, or nil for non-groups.
func Members(group Tag) []Tag {
	members, ok := groups[group]
	if !ok {
		return nil
	}
	out := make([]Tag, len(members))
	copy(out, members)
	return out
}
