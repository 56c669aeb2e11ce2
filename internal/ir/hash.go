package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEntry   = "choreo/entry/v1"
	DomainBinding = "choreo/binding/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryContent is the hashed portion of a ledger entry. Provenance (rule,
// trigger) is part of the identity so two identical effects caused by
// different rules stay distinguishable.
type EntryContent struct {
	Seq     int64
	Flow    string
	Action  ActionRef
	Inputs  IRObject
	Outputs IRObject
	Rule    string
	Trigger int64
}

// EntryID computes the content-addressed ID of a ledger entry.
// Returns error if inputs or outputs cannot be canonically marshaled.
func EntryID(c EntryContent) (string, error) {
	obj := IRObject{
		"seq":     IRInt(c.Seq),
		"flow":    IRString(c.Flow),
		"action":  IRString(c.Action),
		"inputs":  orEmpty(c.Inputs),
		"outputs": orEmpty(c.Outputs),
		"rule":    IRString(c.Rule),
		"trigger": IRInt(c.Trigger),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// BindingHash computes the hash of a frame's bindings for the firing guard
// and firing idempotency.
func BindingHash(bindings IRObject) (string, error) {
	canonical, err := MarshalCanonical(orEmpty(bindings))
	if err != nil {
		return "", fmt.Errorf("BindingHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// MustEntryID is like EntryID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEntryID(c EntryContent) string {
	id, err := EntryID(c)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBindingHash is like BindingHash but panics on error.
func MustBindingHash(bindings IRObject) string {
	hash, err := BindingHash(bindings)
	if err != nil {
		panic(err)
	}
	return hash
}

func orEmpty(obj IRObject) IRObject {
	if obj == nil {
		return IRObject{}
	}
	return obj
}
