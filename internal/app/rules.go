package app

import (
	"context"

	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/concepts/library"
	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

var (
	deleteUser        = ir.NewActionRef(auth.Name, "deleteUser")
	deleteFic         = ir.NewActionRef(library.Name, "deleteFic")
	deleteVersion     = ir.NewActionRef(library.Name, "deleteVersion")
	deleteFicsAndUser = ir.NewActionRef(library.Name, "deleteFicsAndUser")
	viewFic           = ir.NewActionRef(library.Name, "_viewFic")
	getVersion        = ir.NewActionRef(library.Name, "_getVersion")
	getAllVersions    = ir.NewActionRef(library.Name, "_getAllUserVersions")

	deleteFicCategory   = ir.NewActionRef(categorizing.Name, "deleteFicCategory")
	deleteFicCategories = ir.NewActionRef(categorizing.Name, "deleteFicCategories")
	viewFicCategory     = ir.NewActionRef(categorizing.Name, "_viewFicCategory")
	allFicCategories    = ir.NewActionRef(categorizing.Name, "_getAllFicCategories")
)

// goRules returns the rules that need a where stage, in declaration order.
// Every constructor call creates fresh variables.
func goRules() []rule.Rule {
	var rules []rule.Rule
	for _, pair := range []func() []rule.Rule{
		deleteUserRules,
		deleteFicRules,
		deleteVersionRules,
		viewFicRules,
		viewVersionRules,
		getAllUserVersionsRules,
		viewFicCategoryRules,
		getAllFicCategoriesRules,
	} {
		rules = append(rules, pair()...)
	}
	return rules
}

// request is a when pattern on a request for path. fields are bound
// optionally so a request missing them still reaches the error twin.
func request(path string, req frame.Var, fields map[string]frame.Var) rule.Pattern {
	in := rule.Fields{requesting.FieldPath: rule.Str(path)}
	for name, v := range fields {
		in[name] = rule.Opt(v)
	}
	return rule.When(requesting.Request, in, rule.Fields{requesting.FieldRequest: rule.V(req)})
}

func respond(req frame.Var, field string, v frame.Var) rule.Pattern {
	return rule.Then(requesting.Respond, rule.Fields{
		requesting.FieldRequest: rule.V(req),
		field:                   rule.V(v),
	})
}

// twins builds a success rule and its error rule over one decision.
// build is called twice so the rules never share variables.
func twins(name string, build func() (when rule.Pattern, d decision, declares []frame.Var, then []rule.Pattern, req, errVar frame.Var)) []rule.Rule {
	when, d, declares, then, _, _ := build()
	success := rule.Rule{
		Name:     name + "Success",
		When:     []rule.Pattern{when},
		Where:    succeeded(d),
		Declares: declares,
		Then:     then,
	}

	when, d, _, _, req, errVar := build()
	failure := rule.Rule{
		Name:     name + "Error",
		When:     []rule.Pattern{when},
		Where:    failed(d, errVar),
		Declares: []frame.Var{errVar},
		Then:     []rule.Pattern{respond(req, "error", errVar)},
	}
	return []rule.Rule{success, failure}
}

// deleteUserRules authenticate, collect the user's fic ids before anything
// is deleted, then cascade through every concept before responding.
func deleteUserRules() []rule.Rule {
	return append(deleteUserTwins(), failedAfterCheck("DeleteUserFailed", "/UserAuthentication/deleteUser", deleteUser))
}

// failedAfterCheck answers a request whose first then action failed although
// the where stage passed, e.g. when a concurrent delete removed the target
// in between. The success rule abandons its frame at that point.
func failedAfterCheck(name, path string, action ir.ActionRef) rule.Rule {
	req, errVar := frame.NewVar("request"), frame.NewVar("error")
	return rule.Rule{
		Name: name,
		When: []rule.Pattern{
			request(path, req, nil),
			{Action: action, Outputs: rule.Fields{"error": rule.V(errVar)}, Outcome: rule.Failure},
		},
		Then: []rule.Pattern{respond(req, "error", errVar)},
	}
}

func deleteUserTwins() []rule.Rule {
	return twins("DeleteUser", func() (rule.Pattern, decision, []frame.Var, []rule.Pattern, frame.Var, frame.Var) {
		v := frame.Vars("request", "username", "password", "user", "ficIds", "error")

		when := request("/UserAuthentication/deleteUser", v["request"], map[string]frame.Var{
			"username": v["username"],
			"password": v["password"],
		})

		d := func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string) {
			user, msg := authenticate(ctx, q, f, v["username"], v["password"])
			if msg != "" {
				return f, msg
			}
			var ids []string
			if rec, msg := queryOne(ctx, q, getAllVersions, ir.Obj(ir.O("user", user))); msg == "" {
				ids = library.FicIDs(rec["versions"])
			}
			return f.With(v["user"], user).With(v["ficIds"], ir.Strings(ids...)), ""
		}

		then := []rule.Pattern{
			{
				Action:  deleteUser,
				Inputs:  rule.Fields{"username": rule.V(v["username"]), "password": rule.V(v["password"])},
				Outputs: rule.Fields{"user": rule.V(v["user"])},
				Outcome: rule.Success,
			},
			{Action: deleteFicsAndUser, Inputs: rule.Fields{"user": rule.V(v["user"])}, Outcome: rule.Success},
			rule.Then(deleteFicCategories, rule.Fields{"ficIds": rule.V(v["ficIds"])}),
			respond(v["request"], "user", v["user"]),
		}
		return when, d, []frame.Var{v["user"], v["ficIds"]}, then, v["request"], v["error"]
	})
}

// deleteFicRules resolve the fic id first; the category is keyed by it and
// the fic is gone once deleteFic runs.
func deleteFicRules() []rule.Rule {
	return append(deleteFicTwins(), failedAfterCheck("DeleteFicFailed", "/Library/deleteFic", deleteFic))
}

func deleteFicTwins() []rule.Rule {
	return twins("DeleteFic", func() (rule.Pattern, decision, []frame.Var, []rule.Pattern, frame.Var, frame.Var) {
		v := frame.Vars("request", "username", "password", "ficName", "versionNumber", "user", "ficId", "error")

		when := request("/Library/deleteFic", v["request"], map[string]frame.Var{
			"username":      v["username"],
			"password":      v["password"],
			"ficName":       v["ficName"],
			"versionNumber": v["versionNumber"],
		})

		d := func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string) {
			user, msg := authenticate(ctx, q, f, v["username"], v["password"])
			if msg != "" {
				return f, msg
			}
			rec, msg := queryOne(ctx, q, viewFic, ir.Obj(
				ir.O("user", user),
				ir.O("ficName", value(f, v["ficName"])),
				ir.O("versionNumber", value(f, v["versionNumber"])),
			))
			if msg != "" {
				return f, msg
			}
			fic, _ := rec["fic"].(ir.IRObject)
			return f.With(v["user"], user).With(v["ficId"], fic["id"]), ""
		}

		then := []rule.Pattern{
			{
				Action: deleteFic,
				Inputs: rule.Fields{
					"user":          rule.V(v["user"]),
					"ficName":       rule.V(v["ficName"]),
					"versionNumber": rule.V(v["versionNumber"]),
				},
				Outcome: rule.Success,
			},
			rule.Then(deleteFicCategory, rule.Fields{"ficId": rule.V(v["ficId"])}),
			respond(v["request"], "ficId", v["ficId"]),
		}
		return when, d, []frame.Var{v["user"], v["ficId"]}, then, v["request"], v["error"]
	})
}

// deleteVersionRules read the version's member fics before deleting it.
func deleteVersionRules() []rule.Rule {
	return append(deleteVersionTwins(), failedAfterCheck("DeleteVersionFailed", "/Library/deleteVersion", deleteVersion))
}

func deleteVersionTwins() []rule.Rule {
	return twins("DeleteVersion", func() (rule.Pattern, decision, []frame.Var, []rule.Pattern, frame.Var, frame.Var) {
		v := frame.Vars("request", "username", "password", "ficTitle", "user", "versionId", "ficIds", "error")

		when := request("/Library/deleteVersion", v["request"], map[string]frame.Var{
			"username": v["username"],
			"password": v["password"],
			"ficTitle": v["ficTitle"],
		})

		d := func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string) {
			user, msg := authenticate(ctx, q, f, v["username"], v["password"])
			if msg != "" {
				return f, msg
			}
			rec, msg := queryOne(ctx, q, getVersion, ir.Obj(
				ir.O("user", user),
				ir.O("versionTitle", value(f, v["ficTitle"])),
			))
			if msg != "" {
				return f, msg
			}
			version, _ := rec["version"].(ir.IRObject)
			return f.With(v["user"], user).
				With(v["versionId"], version["id"]).
				With(v["ficIds"], ir.Strings(library.FicIDs(version)...)), ""
		}

		then := []rule.Pattern{
			{
				Action:  deleteVersion,
				Inputs:  rule.Fields{"user": rule.V(v["user"]), "ficTitle": rule.V(v["ficTitle"])},
				Outputs: rule.Fields{"versionId": rule.V(v["versionId"])},
				Outcome: rule.Success,
			},
			rule.Then(deleteFicCategories, rule.Fields{"ficIds": rule.V(v["ficIds"])}),
			respond(v["request"], "versionId", v["versionId"]),
		}
		return when, d, []frame.Var{v["user"], v["versionId"], v["ficIds"]}, then, v["request"], v["error"]
	})
}

// view builds a read-only twin pair: run query with the request fields as
// arguments and respond with field of its single record.
func view(name, path string, query ir.ActionRef, args []string, field string) []rule.Rule {
	return twins(name, func() (rule.Pattern, decision, []frame.Var, []rule.Pattern, frame.Var, frame.Var) {
		req, result, errVar := frame.NewVar("request"), frame.NewVar(field), frame.NewVar("error")
		fields := frame.Vars(args...)

		d := func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string) {
			in := make(ir.IRObject, len(fields))
			for n, fv := range fields {
				in[n] = value(f, fv)
			}
			rec, msg := queryOne(ctx, q, query, in)
			if msg != "" {
				return f, msg
			}
			return f.With(result, rec[field]), ""
		}

		then := []rule.Pattern{respond(req, field, result)}
		return request(path, req, fields), d, []frame.Var{result}, then, req, errVar
	})
}

func viewFicRules() []rule.Rule {
	return view("ViewFic", "/Library/_viewFic", viewFic, []string{"user", "ficName", "versionNumber"}, "fic")
}

func viewVersionRules() []rule.Rule {
	return view("ViewVersion", "/Library/_getVersion", getVersion, []string{"user", "versionTitle"}, "version")
}

func getAllUserVersionsRules() []rule.Rule {
	return view("GetAllUserVersions", "/Library/_getAllUserVersions", getAllVersions, []string{"user"}, "versions")
}

func viewFicCategoryRules() []rule.Rule {
	return view("ViewFicCategory", "/Categorizing/_viewFicCategory", viewFicCategory, []string{"ficId"}, "ficCategory")
}

// getAllFicCategoriesRules has no error twin: the query cannot fail.
func getAllFicCategoriesRules() []rule.Rule {
	req, all := frame.NewVar("request"), frame.NewVar("ficCategories")
	return []rule.Rule{{
		Name: "GetAllFicCategories",
		When: []rule.Pattern{request("/Categorizing/_getAllFicCategories", req, nil)},
		Where: func(ctx context.Context, q rule.Querier, f frame.Frame) ([]frame.Frame, error) {
			rows, err := q.Query(ctx, allFicCategories, nil)
			if err != nil {
				return nil, err
			}
			list := ir.IRArray{}
			if len(rows) > 0 {
				if arr, ok := rows[0]["ficCategories"].(ir.IRArray); ok {
					list = arr
				}
			}
			return []frame.Frame{f.With(all, list)}, nil
		},
		Declares: []frame.Var{all},
		Then:     []rule.Pattern{respond(req, "ficCategories", all)},
	}}
}
