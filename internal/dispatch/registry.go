package dispatch

import "sort"

// Registry stores hooks per opcode, ordered ascending by Order within
// each opcode's group list, and exposes the merged global/specific
// iteration the dispatcher drives a message through.
//
// Not safe for concurrent use — by design (spec §5), each connection owns
// exactly one Dispatcher, and therefore exactly one Registry, mutated only
// from that connection's own goroutine.
type Registry struct {
	byCode map[Code][]*HookGroup
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byCode: make(map[Code][]*HookGroup)}
}

// Add inserts hook into the group list for hook.Code, creating a new
// HookGroup at the right sorted position if no existing group shares its
// Order, or appending to an existing group's Hooks in registration order.
func (r *Registry) Add(h *Hook) {
	groups := r.byCode[h.Code]

	i := sort.Search(len(groups), func(i int) bool { return groups[i].Order >= h.Order })
	if i < len(groups) && groups[i].Order == h.Order {
		groups[i].Hooks = append(groups[i].Hooks, h)
		return
	}

	group := &HookGroup{Order: h.Order, Hooks: []*Hook{h}}
	groups = append(groups, nil)
	copy(groups[i+1:], groups[i:])
	groups[i] = group
	r.byCode[h.Code] = groups
}

// Remove drops hook from its group by reference equality. Idempotent: a
// hook not present is a no-op.
func (r *Registry) Remove(h *Hook) {
	groups := r.byCode[h.Code]
	for gi, group := range groups {
		for hi, candidate := range group.Hooks {
			if candidate == h {
				group.Hooks = append(group.Hooks[:hi], group.Hooks[hi+1:]...)
				if len(group.Hooks) == 0 {
					groups = append(groups[:gi], groups[gi+1:]...)
					r.byCode[h.Code] = groups
				}
				return
			}
		}
	}
}

// RemoveByModule drops every hook across every opcode whose ModuleName
// equals name, and only those (spec Testable Property 3).
func (r *Registry) RemoveByModule(name string) {
	for code, groups := range r.byCode {
		kept := groups[:0]
		for _, group := range groups {
			survivors := group.Hooks[:0]
			for _, h := range group.Hooks {
				if h.ModuleName != name {
					survivors = append(survivors, h)
				}
			}
			group.Hooks = survivors
			if len(group.Hooks) > 0 {
				kept = append(kept, group)
			}
		}
		if len(kept) == 0 {
			delete(r.byCode, code)
		} else {
			r.byCode[code] = kept
		}
	}
}

// Merged returns the hooks that apply to code, in the total order spec
// §4.D defines: both the wildcard (Any) list and the code-specific list
// are walked by non-decreasing Order, with a global group preceding a
// code-specific group at equal Order, and insertion order preserved
// within any single group (Testable Property 2).
func (r *Registry) Merged(code Code) []*Hook {
	globals := r.byCode[Any]
	specifics := r.byCode[code]

	var out []*Hook
	gi, ci := 0, 0
	for gi < len(globals) || ci < len(specifics) {
		takeGlobal := gi < len(globals) && (ci >= len(specifics) || globals[gi].Order <= specifics[ci].Order)
		if takeGlobal {
			out = append(out, globals[gi].Hooks...)
			gi++
		} else {
			out = append(out, specifics[ci].Hooks...)
			ci++
		}
	}
	return out
}
