// Package web3 houses the read-only blockchain connectivity used by the
// on-chain lookup tool: chain definitions loaded from YAML, a Client
// abstraction over EVM networks, and address shape checks shared with the
// payment confirmation flow. Nothing in this package signs or broadcasts
// transactions.
package web3
