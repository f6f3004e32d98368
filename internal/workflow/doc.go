// Package workflow advances multi-step workflows by watching the tasks
// backing each step. The advancer runs as a stateless pass: it activates
// scheduled workflows whose time has come, moves active ones forward when
// every task of the current step has succeeded, and flags workflows that
// have made no progress for too long.
//
// The advancer owns no retry logic. Tasks retry through the dispatcher's
// ladder; the workflow simply does not advance until they come through,
// and stalls if they never do. Step advancement is a conditional update on
// the current step index, so concurrent passes collapse into one advance.
package workflow
