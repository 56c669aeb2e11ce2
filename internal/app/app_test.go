package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/choreo/internal/compiler"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/concepts/library"
	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/testutil"
)

func newApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	base := []Option{
		WithAuthOptions(auth.WithIDs(testutil.NewSequentialIDs("user")), auth.WithCost(bcrypt.MinCost)),
		WithLibraryOptions(library.WithIDs(testutil.NewSequentialIDs("lib"))),
		WithRequestingOptions(requesting.WithIDs(testutil.NewSequentialIDs("req"))),
		WithCategorizingOptions(categorizing.WithVocabulary(categorizing.Vocabulary{
			{Name: "Fluff", Category: "Tone"},
			{Name: "Angst", Category: "Tone"},
			{Name: "Dragons", Category: "Creatures"},
		})),
		WithEngineOptions(engine.WithFlowGenerator(&engine.SequentialGenerator{})),
		WithRequestTimeout(time.Second),
	}
	a, err := Build(append(base, opts...)...)
	require.NoError(t, err)
	return a
}

func str(s string) ir.IRString { return ir.IRString(s) }

// register creates an account and returns the user id.
func register(t *testing.T, a *App, username, password string) string {
	t.Helper()
	recs, err := a.Call(context.Background(), "UserAuthentication.register", ir.Obj(
		ir.O("username", str(username)),
		ir.O("password", str(password)),
	))
	require.NoError(t, err)
	user, ok := recs[0].String("user")
	require.True(t, ok, "register failed: %v", recs[0])
	return user
}

// submit posts a new fic and returns its id.
func submit(t *testing.T, a *App, user, name, text, tags string) string {
	t.Helper()
	resp, _, err := a.Request(context.Background(), "/Library/submitNewFic", ir.Obj(
		ir.O("user", str(user)),
		ir.O("ficName", str(name)),
		ir.O("ficText", str(text)),
		ir.O("authorTags", str(tags)),
		ir.O("date", ir.Obj(ir.O("day", ir.IRInt(1)), ir.O("month", ir.IRInt(2)), ir.O("year", ir.IRInt(2024)))),
	))
	require.NoError(t, err)
	id, ok := resp.String("ficId")
	require.True(t, ok, "submit failed: %v", resp)
	return id
}

func actionsOf(entries []ledger.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Action)
	}
	return out
}

func countAction(entries []ledger.Entry, action ir.ActionRef) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func TestRulesAreValid(t *testing.T) {
	a := newApp(t)
	rules, err := Rules()
	require.NoError(t, err)

	rep := compiler.Validate(rules, a.Concepts.Signatures())
	assert.True(t, rep.OK(), "%v", rep.Errors)
	assert.Empty(t, rep.Uncovered)
	assert.Empty(t, rep.Cycles)
}

func TestRegistrationCascade(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")

	entries := a.Engine.Ledger().Since(0)
	assert.Equal(t, []string{"UserAuthentication.register", "Library.addUser"}, actionsOf(entries))
	assert.Equal(t, "AuthRegisterAddUser", entries[1].Rule)
	assert.Equal(t, str(user), entries[1].Inputs["user"])
	assert.Zero(t, countAction(entries, requesting.Respond))
}

func TestRegistrationFailureDoesNotCascade(t *testing.T) {
	a := newApp(t)
	register(t, a, "alice", "secret")

	recs, err := a.Call(context.Background(), "UserAuthentication.register", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("other")),
	))
	require.NoError(t, err)
	msg, _ := ir.ErrorMessage(recs[0])
	assert.Equal(t, "Username 'alice' already exists.", msg)
	assert.Equal(t, 1, countAction(a.Engine.Ledger().Since(0), "Library.addUser"))
}

func TestSubmitNewFic(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")

	ficID := submit(t, a, user, "Wings", "Dragons everywhere, and some fluff.", "Dragons\nHorror")

	recs, err := a.Call(context.Background(), "Categorizing._viewFicCategory", ir.Obj(ir.O("ficId", str(ficID))))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	cat, ok := recs[0]["ficCategory"].(ir.IRObject)
	require.True(t, ok, "%v", recs[0])

	suggested, _ := cat["suggestedTags"].(ir.IRArray)
	require.Len(t, suggested, 1)
	assert.Equal(t, str("Fluff"), suggested[0].(ir.IRObject)["name"])
	assert.Equal(t, ir.Strings("Horror"), cat["tagsToRemove"])
}

func TestSubmitNewFicErrorResponds(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	submit(t, a, user, "Wings", "text", "")

	resp, flow, err := a.Request(context.Background(), "/Library/submitNewFic", ir.Obj(
		ir.O("user", str(user)),
		ir.O("ficName", str("Wings")),
		ir.O("ficText", str("again")),
	))
	require.NoError(t, err)
	msg, ok := ir.ErrorMessage(resp)
	require.True(t, ok)
	assert.Equal(t, "Fic with name 'Wings' already exists for user '"+user+"'.", msg)

	entries := a.Engine.Ledger().Flow(flow)
	assert.Equal(t, 1, countAction(entries, requesting.Respond))
	assert.Zero(t, countAction(entries, "Categorizing.categorizeFic"))
}

func TestSubmitNewVersion(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	first := submit(t, a, user, "Wings", "v1", "Fluff")

	resp, _, err := a.Request(context.Background(), "/Library/submitNewVersionOfFanfic", ir.Obj(
		ir.O("user", str(user)),
		ir.O("versionTitle", str("Wings")),
		ir.O("ficText", str("v2 with angst")),
		ir.O("authorTags", str("Angst")),
	))
	require.NoError(t, err)
	second, ok := resp.String("versionId")
	require.True(t, ok, "%v", resp)
	assert.NotEqual(t, first, second)

	recs, err := a.Call(context.Background(), "Library._getVersion", ir.Obj(
		ir.O("user", str(user)),
		ir.O("versionTitle", str("Wings")),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, library.FicIDs(recs[0]["version"]))

	recs, err = a.Call(context.Background(), "Categorizing._viewFicCategory", ir.Obj(ir.O("ficId", str(second))))
	require.NoError(t, err)
	assert.False(t, ir.IsError(recs[0]), "new revision is categorized")

	resp, _, err = a.Request(context.Background(), "/Library/submitNewVersionOfFanfic", ir.Obj(
		ir.O("user", str(user)),
		ir.O("versionTitle", str("Missing")),
		ir.O("ficText", str("x")),
	))
	require.NoError(t, err)
	msg, _ := ir.ErrorMessage(resp)
	assert.Equal(t, "Fic version 'Missing' does not exist for user '"+user+"'.", msg)
}

func TestDeleteUserCascade(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	f1 := submit(t, a, user, "Wings", "one", "")
	f2 := submit(t, a, user, "Scales", "two", "")

	resp, flow, err := a.Request(context.Background(), "/UserAuthentication/deleteUser", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
	))
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("user", str(user))), resp)

	entries := a.Engine.Ledger().Flow(flow)
	assert.Equal(t, []string{
		"Requesting.request",
		"UserAuthentication.deleteUser",
		"Library.deleteFicsAndUser",
		"Categorizing.deleteFicCategories",
		"Requesting.respond",
	}, actionsOf(entries))

	// The fic ids were read before the library was emptied.
	cascade := entries[3]
	assert.Equal(t, "DeleteUserSuccess", cascade.Rule)
	assert.Equal(t, ir.Strings(f1, f2), cascade.Inputs["ficIds"])
	assert.Equal(t, ir.IRInt(2), cascade.Outputs["deleted"])

	all, err := a.Call(context.Background(), "Categorizing._getAllFicCategories", nil)
	require.NoError(t, err)
	assert.Empty(t, all[0]["ficCategories"])

	exists, err := a.Call(context.Background(), "UserAuthentication._userExists", ir.Obj(ir.O("username", str("alice"))))
	require.NoError(t, err)
	assert.Equal(t, ir.IRBool(false), exists[0]["exists"])
}

func TestDeleteUserErrorPath(t *testing.T) {
	tests := []struct {
		name    string
		payload ir.IRObject
		want    string
	}{
		{
			name:    "missing password",
			payload: ir.Obj(ir.O("username", str("alice"))),
			want:    "Username and password are required for authentication.",
		},
		{
			name:    "empty username",
			payload: ir.Obj(ir.O("username", str("")), ir.O("password", str("secret"))),
			want:    "Username and password are required for authentication.",
		},
		{
			name:    "wrong password",
			payload: ir.Obj(ir.O("username", str("alice")), ir.O("password", str("nope"))),
			want:    "Authentication failed: Invalid username or password.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t)
			register(t, a, "alice", "secret")

			resp, flow, err := a.Request(context.Background(), "/UserAuthentication/deleteUser", tt.payload)
			require.NoError(t, err)
			assert.Equal(t, ir.Obj(ir.O("error", str(tt.want))), resp)

			entries := a.Engine.Ledger().Flow(flow)
			assert.Equal(t, []string{"Requesting.request", "Requesting.respond"}, actionsOf(entries))
			assert.Equal(t, "DeleteUserError", entries[1].Rule)
		})
	}
}

// deleteOnFire removes the account as soon as rule starts its then stage,
// standing in for a concurrent delete.
type deleteOnFire struct {
	rule string
	app  **App
}

func (o deleteOnFire) Appended(ledger.Entry) {}

func (o deleteOnFire) Fired(rule string) {
	if rule != o.rule {
		return
	}
	(*o.app).Auth.Invoke(context.Background(), "deleteUser", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
	))
}

func (o deleteOnFire) Refused(string, engine.RuntimeErrorCode) {}

func TestDeleteUserFailsAfterAuthentication(t *testing.T) {
	var a *App
	a = newApp(t, WithEngineOptions(engine.WithObserver(deleteOnFire{rule: "DeleteUserSuccess", app: &a})))
	register(t, a, "alice", "secret")

	resp, flow, err := a.Request(context.Background(), "/UserAuthentication/deleteUser", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
	))
	require.NoError(t, err, "the request is answered, not timed out")
	msg, ok := ir.ErrorMessage(resp)
	require.True(t, ok, "resp: %v", resp)
	assert.NotEmpty(t, msg)

	entries := a.Engine.Ledger().Flow(flow)
	assert.Equal(t, []string{
		"Requesting.request",
		"UserAuthentication.deleteUser",
		"Requesting.respond",
	}, actionsOf(entries))
	assert.Equal(t, "DeleteUserFailed", entries[2].Rule)
	assert.Zero(t, countAction(entries, deleteFicsAndUser), "the cascade stops")
}

func TestDeleteFic(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	ficID := submit(t, a, user, "Wings", "one", "")

	resp, flow, err := a.Request(context.Background(), "/Library/deleteFic", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
		ir.O("ficName", str("Wings")),
		ir.O("versionNumber", ir.IRInt(0)),
	))
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("ficId", str(ficID))), resp)
	assert.Equal(t, []string{
		"Requesting.request",
		"Library.deleteFic",
		"Categorizing.deleteFicCategory",
		"Requesting.respond",
	}, actionsOf(a.Engine.Ledger().Flow(flow)))

	resp, _, err = a.Request(context.Background(), "/Library/deleteFic", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
		ir.O("ficName", str("Wings")),
		ir.O("versionNumber", ir.IRInt(0)),
	))
	require.NoError(t, err)
	assert.True(t, ir.IsError(resp))
}

func TestDeleteVersionReadsMembersFirst(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	first := submit(t, a, user, "Wings", "v1", "")
	_, _, err := a.Request(context.Background(), "/Library/submitNewVersionOfFanfic", ir.Obj(
		ir.O("user", str(user)),
		ir.O("versionTitle", str("Wings")),
		ir.O("ficText", str("v2")),
	))
	require.NoError(t, err)

	resp, flow, err := a.Request(context.Background(), "/Library/deleteVersion", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
		ir.O("ficTitle", str("Wings")),
	))
	require.NoError(t, err)
	_, ok := resp.String("versionId")
	require.True(t, ok, "%v", resp)

	entries := a.Engine.Ledger().Flow(flow)
	require.Equal(t, "Categorizing.deleteFicCategories", string(entries[2].Action))
	ids, _ := entries[2].Inputs.StringSlice("ficIds")
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, first)
	assert.Equal(t, ir.IRInt(2), entries[2].Outputs["deleted"])
}

func TestViews(t *testing.T) {
	a := newApp(t)
	user := register(t, a, "alice", "secret")
	ficID := submit(t, a, user, "Wings", "text", "")

	tests := []struct {
		name    string
		path    string
		payload ir.IRObject
		field   string
	}{
		{"view fic", "/Library/_viewFic", ir.Obj(ir.O("user", str(user)), ir.O("ficName", str("Wings")), ir.O("versionNumber", ir.IRInt(0))), "fic"},
		{"view version", "/Library/_getVersion", ir.Obj(ir.O("user", str(user)), ir.O("versionTitle", str("Wings"))), "version"},
		{"all versions", "/Library/_getAllUserVersions", ir.Obj(ir.O("user", str(user))), "versions"},
		{"fic category", "/Categorizing/_viewFicCategory", ir.Obj(ir.O("ficId", str(ficID))), "ficCategory"},
		{"all categories", "/Categorizing/_getAllFicCategories", ir.IRObject{}, "ficCategories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _, err := a.Request(context.Background(), tt.path, tt.payload)
			require.NoError(t, err)
			assert.False(t, ir.IsError(resp), "%v", resp)
			assert.Contains(t, resp, tt.field)
		})
	}
}

func TestViewErrorsAreAnswered(t *testing.T) {
	a := newApp(t)

	tests := []struct {
		path    string
		payload ir.IRObject
	}{
		{"/Library/_viewFic", ir.Obj(ir.O("user", str("ghost")), ir.O("ficName", str("x")), ir.O("versionNumber", ir.IRInt(0)))},
		{"/Library/_getVersion", ir.IRObject{}},
		{"/Library/_getAllUserVersions", ir.Obj(ir.O("user", str("ghost")))},
		{"/Categorizing/_viewFicCategory", ir.Obj(ir.O("ficId", str("nope")))},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, flow, err := a.Request(context.Background(), tt.path, tt.payload)
			require.NoError(t, err)
			assert.True(t, ir.IsError(resp), "%v", resp)
			assert.Equal(t, 1, countAction(a.Engine.Ledger().Flow(flow), requesting.Respond))
		})
	}
}

func TestUnansweredRequestExpires(t *testing.T) {
	a := newApp(t, WithRequestTimeout(20*time.Millisecond))

	_, flow, err := a.Request(context.Background(), "/Nowhere/fire", ir.IRObject{})
	require.ErrorIs(t, err, ErrRequestTimeout)

	entries := a.Engine.Ledger().Flow(flow)
	assert.Equal(t, []string{"Requesting.request", "Requesting.expire"}, actionsOf(entries))
	assert.Zero(t, a.Requesting.Pending())
}

func TestRequestWithoutPathIsRefused(t *testing.T) {
	a := newApp(t)
	_, _, err := a.Request(context.Background(), "", ir.IRObject{})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRulesDirUsesStages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "whoami.cue"), []byte(`
rule: WhoAmISuccess: {
	when: [{
		action: "Requesting.request"
		inputs: {path: "/UserAuthentication/whoami", username: "?$username", password: "?$password"}
		outputs: {request: "$request"}
	}]
	where: "authenticated"
	declares: ["user"]
	then: [{action: "Requesting.respond", inputs: {request: "$request", user: "$user"}}]
}

rule: WhoAmIError: {
	when: [{
		action: "Requesting.request"
		inputs: {path: "/UserAuthentication/whoami", username: "?$username", password: "?$password"}
		outputs: {request: "$request"}
	}]
	where: "authenticationFailed"
	declares: ["error"]
	then: [{action: "Requesting.respond", inputs: {request: "$request", error: "$error"}}]
}
`), 0o644))

	a := newApp(t, WithRulesDir(dir))
	user := register(t, a, "alice", "secret")

	resp, _, err := a.Request(context.Background(), "/UserAuthentication/whoami", ir.Obj(
		ir.O("username", str("alice")),
		ir.O("password", str("secret")),
	))
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("user", str(user))), resp)

	resp, _, err = a.Request(context.Background(), "/UserAuthentication/whoami", ir.Obj(ir.O("username", str("alice"))))
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("error", str(msgCredentialsRequired))), resp)
}

func TestConcurrentRequestsStayInTheirFlows(t *testing.T) {
	a := newApp(t, WithEngineOptions(engine.WithFlowGenerator(engine.UUIDv7Generator{})))
	user := register(t, a, "alice", "secret")

	const n = 8
	errs := make(chan error, n)
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			resp, _, err := a.Request(context.Background(), "/Library/submitNewFic", ir.Obj(
				ir.O("user", str(user)),
				ir.O("ficName", str(string(rune('A'+i)))),
				ir.O("ficText", str("t")),
			))
			if err == nil {
				id, _ := resp.String("ficId")
				ids <- id
			}
			errs <- err
		}(i)
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	close(ids)
	for id := range ids {
		assert.False(t, seen[id], "each request gets its own fic")
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, countAction(a.Engine.Ledger().Since(0), requesting.Respond))
}
