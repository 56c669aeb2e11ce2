package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

const submitRules = `
rule: SubmitNewFicRequest: {
	when: [{
		action: "Requesting.request"
		inputs: {path: "/Library/submitNewFic", user: "$user", ficName: "$ficName"}
		outputs: {request: "$request"}
	}]
	then: [{
		action: "Library.submitNewFic"
		inputs: {user: "$user", ficName: "$ficName"}
	}]
}

rule: SubmitNewFicResponse: {
	when: [{
		action: "Requesting.request"
		inputs: {path: "/Library/submitNewFic"}
		outputs: {request: "$request"}
	}, {
		action: "Library.submitNewFic"
		outcome: "success"
		outputs: {ficId: "$ficId"}
	}]
	then: [{
		action: "Requesting.respond"
		inputs: {request: "$request", ficId: "$ficId"}
	}]
}
`

func compile(t *testing.T, src string, catalog Catalog) []rule.Rule {
	t.Helper()
	rules, err := CompileSource("rules.cue", []byte(src), catalog)
	require.NoError(t, err)
	return rules
}

func TestCompileRulesBasic(t *testing.T) {
	rules := compile(t, submitRules, nil)
	require.Len(t, rules, 2)

	req := rules[0]
	assert.Equal(t, "SubmitNewFicRequest", req.Name)
	assert.Equal(t, rule.FlowScope(), req.Scope)
	require.Len(t, req.When, 1)
	assert.Equal(t, ir.ActionRef("Requesting.request"), req.When[0].Action)

	path, ok := req.When[0].Inputs["path"].Literal()
	require.True(t, ok)
	assert.Equal(t, ir.IRString("/Library/submitNewFic"), path)

	whenUser, ok := req.When[0].Inputs["user"].Var()
	require.True(t, ok)
	thenUser, ok := req.Then[0].Inputs["user"].Var()
	require.True(t, ok)
	assert.Equal(t, whenUser, thenUser, "same name within a rule is the same variable")

	resp := rules[1]
	require.Len(t, resp.When, 2)
	assert.Equal(t, rule.Success, resp.When[1].Outcome)

	reqVar, _ := req.When[0].Outputs["request"].Var()
	respVar, _ := resp.When[0].Outputs["request"].Var()
	assert.NotEqual(t, reqVar, respVar, "variables never alias across rules")
}

func TestCompiledRulesRegister(t *testing.T) {
	rules := compile(t, submitRules, nil)
	_, err := rule.NewRegistry(rules)
	require.NoError(t, err)
}

func TestCompileScope(t *testing.T) {
	tests := []struct {
		scope string
		want  rule.Scope
	}{
		{`"flow"`, rule.FlowScope()},
		{`"global"`, rule.GlobalScope()},
		{`"keyed(\"user\")"`, rule.Keyed("user")},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			src := `rule: r: {
				scope: ` + tt.scope + `
				when: [{action: "A.x", inputs: {user: "$u"}}]
				then: [{action: "B.y", inputs: {user: "$u"}}]
			}`
			rules := compile(t, src, nil)
			require.Len(t, rules, 1)
			assert.Equal(t, tt.want, rules[0].Scope)
		})
	}
}

func TestCompileTerms(t *testing.T) {
	src := `rule: r: {
		when: [{
			action: "Requesting.request"
			inputs: {
				path: "/UserAuthentication/deleteUser"
				password: "?$password"
				limit: 3
				flag: true
				tags: ["a", "b"]
				meta: {kind: "x"}
				nothing: null
			}
		}]
		then: [{action: "B.y", inputs: {password: "$password", fixed: "lit"}}]
	}`
	rules := compile(t, src, nil)
	in := rules[0].When[0].Inputs

	assert.True(t, in["password"].IsOptional())

	lits := map[string]ir.IRValue{
		"path":    ir.IRString("/UserAuthentication/deleteUser"),
		"limit":   ir.IRInt(3),
		"flag":    ir.IRBool(true),
		"tags":    ir.Strings("a", "b"),
		"meta":    ir.Obj(ir.O("kind", ir.IRString("x"))),
		"nothing": ir.IRNull{},
	}
	for name, want := range lits {
		got, ok := in[name].Literal()
		require.True(t, ok, name)
		assert.True(t, ir.Equal(want, got), name)
	}

	fixed, ok := rules[0].Then[0].Inputs["fixed"].Literal()
	require.True(t, ok)
	assert.Equal(t, ir.IRString("lit"), fixed)
}

func TestCompileWhereStage(t *testing.T) {
	var gotVars *Vars
	catalog := Catalog{
		"markAdmin": func(vars *Vars) rule.WhereFunc {
			gotVars = vars
			admin := vars.Get("admin")
			return func(_ context.Context, _ rule.Querier, f frame.Frame) ([]frame.Frame, error) {
				return []frame.Frame{f.With(admin, ir.IRBool(true))}, nil
			}
		},
	}
	src := `rule: r: {
		when: [{action: "A.x", inputs: {user: "$user"}}]
		where: "markAdmin"
		declares: ["admin"]
		then: [{action: "B.y", inputs: {user: "$user", admin: "$admin"}}]
	}`
	rules := compile(t, src, catalog)
	rl := rules[0]
	require.NotNil(t, rl.Where)
	require.Len(t, rl.Declares, 1)
	assert.Equal(t, gotVars.Get("admin"), rl.Declares[0])

	thenAdmin, _ := rl.Then[0].Inputs["admin"].Var()
	assert.Equal(t, rl.Declares[0], thenAdmin)

	frames, err := rl.Where(context.Background(), nil, frame.Empty)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	v, ok := frames[0].Get(thenAdmin)
	require.True(t, ok)
	assert.Equal(t, ir.IRBool(true), v)

	_, err = rule.NewRegistry(rules)
	require.NoError(t, err)
}

func TestCompileWhereChain(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return func(*Vars) rule.WhereFunc {
			return func(_ context.Context, _ rule.Querier, f frame.Frame) ([]frame.Frame, error) {
				order = append(order, name)
				return []frame.Frame{f}, nil
			}
		}
	}
	src := `rule: r: {
		when: [{action: "A.x"}]
		where: ["first", "second"]
		then: [{action: "B.y"}]
	}`
	rules := compile(t, src, Catalog{"first": stage("first"), "second": stage("second")})

	_, err := rules[0].Where(context.Background(), nil, frame.Empty)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing when", `rule: r: {then: [{action: "B.y"}]}`, "when"},
		{"missing then", `rule: r: {when: [{action: "A.x"}]}`, "then"},
		{"empty when", `rule: r: {when: [], then: [{action: "B.y"}]}`, "when"},
		{"when not a list", `rule: r: {when: {action: "A.x"}, then: [{action: "B.y"}]}`, "when"},
		{"missing action", `rule: r: {when: [{inputs: {}}], then: [{action: "B.y"}]}`, "when[0].action"},
		{"bad action ref", `rule: r: {when: [{action: "nodot"}], then: [{action: "B.y"}]}`, "when[0].action"},
		{"bad scope", `rule: r: {scope: "galaxy", when: [{action: "A.x"}], then: [{action: "B.y"}]}`, "scope"},
		{"bad outcome", `rule: r: {when: [{action: "A.x", outcome: "maybe"}], then: [{action: "B.y"}]}`, "when[0].outcome"},
		{"optional in then", `rule: r: {when: [{action: "A.x"}], then: [{action: "B.y", inputs: {p: "?$p"}}]}`, "then[0].inputs.p"},
		{"float literal", `rule: r: {when: [{action: "A.x", inputs: {n: 1.5}}], then: [{action: "B.y"}]}`, "when[0].inputs.n"},
		{"unknown stage", `rule: r: {when: [{action: "A.x"}], where: "nope", then: [{action: "B.y"}]}`, "where"},
		{"inputs not a struct", `rule: r: {when: [{action: "A.x", inputs: "x"}], then: [{action: "B.y"}]}`, "when[0].inputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("bad.cue", []byte(tt.src), nil)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte("rule: r: {\n\tscope: \"galaxy\"\n\twhen: [{action: \"A.x\"}]\n\tthen: [{action: \"B.y\"}]\n}\n"), nil)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "bad.cue:2:")
}

func TestCompileReportsAllBrokenRules(t *testing.T) {
	src := `
rule: one: {then: [{action: "B.y"}]}
rule: two: {when: [{action: "A.x"}]}
rule: ok: {when: [{action: "A.x"}], then: [{action: "B.y"}]}
`
	_, err := CompileSource("bad.cue", []byte(src), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule one")
	assert.Contains(t, err.Error(), "rule two")
	assert.NotContains(t, err.Error(), "rule ok")
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte("rule: {"), nil)
	require.Error(t, err)
}

func TestCompileNoRules(t *testing.T) {
	rules, err := CompileSource("empty.cue", []byte(`other: 1`), nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
