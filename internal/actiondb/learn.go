package actiondb

import (
	"strings"

	"github.com/roach88/ade/internal/ir"
)

// Learn synthesizes a prototype from a sequence of observed steps and the
// effects they achieved, and registers it under the action root. Variables
// appearing in effects, then in steps (tokens starting with '?'), become
// roles in first-appearance order, typed where any appearance is typed.
// An empty name is replaced by a generated one.
func (db *Database) Learn(name string, steps [][]string, effects []ir.Predicate) (*Entry, error) {
	if name == "" {
		name = db.NextName("learned")
	}

	types := make(map[string]string)
	var order []string
	note := func(v, typ string) {
		k := ir.FoldName(v)
		if _, ok := types[k]; !ok {
			order = append(order, v)
			types[k] = ""
		}
		if typ != "" && types[k] == "" {
			types[k] = typ
		}
	}
	for _, p := range effects {
		for _, a := range p.Args {
			if a.Var {
				note(a.Name, a.Type)
			}
		}
	}
	for _, step := range steps {
		if len(step) == 0 {
			continue
		}
		for _, tok := range step[1:] {
			if strings.HasPrefix(tok, "?") {
				n, typ, _ := strings.Cut(strings.TrimPrefix(tok, "?"), ":")
				note(n, typ)
			}
		}
	}

	def := ir.ActionDef{
		Type:        name,
		Super:       TypeAction,
		Description: "learned",
		Events:      steps,
	}
	for _, v := range order {
		def.Roles = append(def.Roles, ir.RoleDef{Name: "?" + v, Type: types[ir.FoldName(v)]})
	}
	for _, p := range effects {
		def.Effects = append(def.Effects, p.String())
	}
	return db.Put(def)
}
