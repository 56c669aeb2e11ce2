// Package harness runs YAML scenarios against the fanfic application.
//
// A scenario builds a fresh application with deterministic identifiers
// (sequential user, fic and request ids, flow tokens "<flow_token>-N") and
// archives its ledger into an in-memory store. Setup steps invoke actions
// directly and must succeed. Flow steps either invoke an action or raise a
// request for a path and wait for the rules to answer it; each may carry an
// expectation on the response. Assertions then check the archived trace.
//
// Scenario format:
//
//	name: delete_user
//	description: Deleting a user removes their fics and categories
//	flow_token: flow
//	vocabulary:
//	  - tag: Fluff
//	    category: Tone
//	setup:
//	  - action: UserAuthentication.register
//	    args: {username: ada, password: secret}
//	flow:
//	  - request: /UserAuthentication/deleteUser
//	    args: {username: ada, password: secret}
//	    expect:
//	      case: success
//	      result: {user: user-1}
//	assertions:
//	  - type: trace_order
//	    actions: [UserAuthentication.deleteUser, Library.deleteFicsAndUser]
//	  - type: response_count
//	    path: /UserAuthentication/deleteUser
//	    count: 1
//
// Assertion types:
//   - trace_contains: an entry of action whose inputs (and outputs, when
//     given) contain the listed fields
//   - trace_order: the first entries of the listed actions appear in order
//   - trace_count: action appears exactly count times
//   - response_count: count responds answer requests (for path, when given)
//
// The trace of a run can be compared against a golden file with
// RunWithGolden. Golden files live in testdata/golden and are regenerated
// with:
//
//	go test ./internal/harness -update
package harness
