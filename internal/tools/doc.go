// Package tools defines the catalog of read-only account-data tools exposed
// to the protocol gateway and the agent, the registry that holds them, and the
// executor that binds a tool call to the caller identity carried in the
// execution context.
package tools
