// Package stack loads a strata project and executes actions over its stacks.
//
// A project is a directory whose config/ tree holds one YAML file per stack
// plus inheritable config.yaml defaults. A Plan scopes the request to a set of
// stacks, orders them into dependency batches and runs an action executor for
// every stack, collecting a per-stack Result.
package stack
